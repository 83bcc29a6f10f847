// Package inspector evaluates an existing certificate's remaining validity
// and standards compliance. The checks are advisory and never modify
// anything.
package inspector

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"slices"
	"time"

	"github.com/vyrodovalexey/localrest/internal/credential"
)

const (
	// MinRSAKeyBits is the smallest acceptable RSA modulus.
	MinRSAKeyBits = 2048

	// MinECDSAKeyBits is the smallest acceptable ECDSA curve size.
	MinECDSAKeyBits = 256
)

var weakSignatureAlgorithms = []x509.SignatureAlgorithm{
	x509.UnknownSignatureAlgorithm,
	x509.MD2WithRSA,
	x509.MD5WithRSA,
	x509.SHA1WithRSA,
	x509.DSAWithSHA1,
	x509.DSAWithSHA256,
	x509.ECDSAWithSHA1,
}

// Report summarizes a certificate for status output and warnings.
type Report struct {
	Subject         string    `json:"subject"`
	Serial          string    `json:"serial"`
	NotBefore       time.Time `json:"notBefore"`
	NotAfter        time.Time `json:"notAfter"`
	RemainingDays   float64   `json:"remainingDays"`
	Expired         bool      `json:"expired"`
	Compliant       bool      `json:"compliant"`
	Problems        []string  `json:"problems,omitempty"`
	SubjectAltNames []string  `json:"subjectAltNames"`
}

// StandardsCompliant reports whether cert uses a strong enough signature
// digest and key and carries the extensions a server certificate needs.
func StandardsCompliant(cert *x509.Certificate) bool {
	return len(Problems(cert)) == 0
}

// Problems lists the reasons cert is not standards compliant. It is empty
// for a compliant certificate.
func Problems(cert *x509.Certificate) []string {
	if cert == nil {
		return []string{"no certificate"}
	}

	var problems []string

	if slices.Contains(weakSignatureAlgorithms, cert.SignatureAlgorithm) {
		problems = append(problems, fmt.Sprintf("weak signature algorithm %s", cert.SignatureAlgorithm))
	}

	if p := keyProblem(cert.PublicKey); p != "" {
		problems = append(problems, p)
	}

	if !cert.BasicConstraintsValid {
		problems = append(problems, "basic constraints extension missing")
	}

	if cert.KeyUsage == 0 {
		problems = append(problems, "key usage extension missing")
	}

	if !slices.Contains(cert.ExtKeyUsage, x509.ExtKeyUsageServerAuth) {
		problems = append(problems, "extended key usage does not include server authentication")
	}

	if len(cert.DNSNames) == 0 && len(cert.IPAddresses) == 0 {
		problems = append(problems, "subject alternative name extension missing")
	}

	return problems
}

func keyProblem(pub any) string {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		if bits := k.N.BitLen(); bits < MinRSAKeyBits {
			return fmt.Sprintf("RSA key size %d below %d bits", bits, MinRSAKeyBits)
		}
	case *ecdsa.PublicKey:
		if bits := k.Curve.Params().BitSize; bits < MinECDSAKeyBits {
			return fmt.Sprintf("ECDSA curve size %d below %d bits", bits, MinECDSAKeyBits)
		}
	case ed25519.PublicKey:
	default:
		return fmt.Sprintf("unsupported public key type %T", pub)
	}
	return ""
}

// RemainingValidityDays returns the days from now until cert expires. The
// result is negative once the certificate has expired.
func RemainingValidityDays(cert *x509.Certificate, now time.Time) float64 {
	return cert.NotAfter.Sub(now).Hours() / 24
}

// IsExpired reports whether RemainingValidityDays is negative.
func IsExpired(cert *x509.Certificate, now time.Time) bool {
	return RemainingValidityDays(cert, now) < 0
}

// Inspect parses a PEM certificate and reports on it.
func Inspect(certPEM string, now time.Time) (*Report, error) {
	cert, err := credential.ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	return ReportFor(cert, now), nil
}

// ReportFor reports on a parsed certificate.
func ReportFor(cert *x509.Certificate, now time.Time) *Report {
	problems := Problems(cert)
	days := RemainingValidityDays(cert, now)

	sans := make([]string, 0, len(cert.IPAddresses)+len(cert.DNSNames))
	for _, ip := range cert.IPAddresses {
		sans = append(sans, "IP:"+ip.String())
	}
	for _, name := range cert.DNSNames {
		sans = append(sans, "DNS:"+name)
	}

	return &Report{
		Subject:         cert.Subject.CommonName,
		Serial:          cert.SerialNumber.String(),
		NotBefore:       cert.NotBefore,
		NotAfter:        cert.NotAfter,
		RemainingDays:   days,
		Expired:         days < 0,
		Compliant:       len(problems) == 0,
		Problems:        problems,
		SubjectAltNames: sans,
	}
}
