package credential

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/vyrodovalexey/localrest/internal/observability"
	"github.com/vyrodovalexey/localrest/internal/settings"
	"github.com/vyrodovalexey/localrest/internal/util"
)

const (
	// KeySize is the RSA modulus size of generated identities.
	KeySize = 2048

	// Validity is the lifetime of a generated certificate.
	Validity = 365 * 24 * time.Hour

	// CommonName is the subject and issuer common name.
	CommonName = "Local REST API"

	// Organization is the subject organization.
	Organization = "Local REST API"
)

// PEM block types.
const (
	pemTypeCertificate = "CERTIFICATE"
	pemTypeRSAKey      = "RSA PRIVATE KEY"
	pemTypePublicKey   = "PUBLIC KEY"
)

// serialNumber is shared by every generated identity. Each regeneration
// replaces the key pair as well, so reuse never identifies two live
// certificates from one issuer key.
var serialNumber = big.NewInt(1)

var oidNetscapeCertType = asn1.ObjectIdentifier{2, 16, 840, 1, 113730, 1, 1}

// Netscape certificate type bits: sslClient, sslServer, email, objSign,
// sslCA, emailCA, objCA. Bit 4 is reserved.
const netscapeCertTypeBits = 0xF7

// IdentityConfig is the input to identity generation.
type IdentityConfig struct {
	// BindingHost is the IP address the secure listener binds to.
	BindingHost string

	// SubjectAltNames holds extra hostnames, one per line.
	SubjectAltNames string

	// Now returns the issuance time. Defaults to time.Now.
	Now func() time.Time
}

// IdentityConfigFromSettings builds an IdentityConfig from a settings
// snapshot.
func IdentityConfigFromSettings(s *settings.Settings) IdentityConfig {
	return IdentityConfig{
		BindingHost:     s.BindingHost,
		SubjectAltNames: s.SubjectAltNames,
	}
}

// Identity is a PEM-encoded key pair and self-signed certificate together
// with the parsed certificate.
type Identity struct {
	CertificatePEM string
	PrivateKeyPEM  string
	PublicKeyPEM   string

	Certificate *x509.Certificate
}

// Crypto returns the identity as persisted settings material.
func (id *Identity) Crypto() *settings.Crypto {
	return &settings.Crypto{
		CertificatePEM: id.CertificatePEM,
		PrivateKeyPEM:  id.PrivateKeyPEM,
		PublicKeyPEM:   id.PublicKeyPEM,
	}
}

// Identity generates a new RSA key pair and a self-signed CA certificate
// valid for the configured binding host and extra hostnames.
func (g *Generator) Identity(cfg IdentityConfig) (*Identity, error) {
	id, err := g.generateIdentity(cfg)
	g.metrics.RecordCredentialGeneration(KindIdentity, err)
	if err != nil {
		g.logger.Error("failed to generate identity", observability.Error(err))
		return nil, err
	}

	g.logger.Info("generated identity",
		observability.String("subject", id.Certificate.Subject.CommonName),
		observability.Time("notAfter", id.Certificate.NotAfter),
		observability.Strings("dnsNames", id.Certificate.DNSNames),
	)

	return id, nil
}

func (g *Generator) generateIdentity(cfg IdentityConfig) (*Identity, error) {
	sans, err := BuildSubjectAltNames(cfg.BindingHost, cfg.SubjectAltNames)
	if err != nil {
		return nil, util.NewCryptoError("build subject alternative names", err)
	}

	sanExt, err := encodeSubjectAltNames(sans)
	if err != nil {
		return nil, util.NewCryptoError("encode subject alternative names", err)
	}

	nsCertType, err := asn1.Marshal(asn1.BitString{Bytes: []byte{netscapeCertTypeBits}, BitLength: 8})
	if err != nil {
		return nil, util.NewCryptoError("encode netscape certificate type", err)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, KeySize)
	if err != nil {
		return nil, util.NewCryptoError("generate private key", err)
	}

	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	notBefore := now()

	subject := pkix.Name{
		CommonName:   CommonName,
		Organization: []string{Organization},
	}

	template := &x509.Certificate{
		SerialNumber:       serialNumber,
		Subject:            subject,
		Issuer:             subject,
		NotBefore:          notBefore,
		NotAfter:           notBefore.Add(Validity),
		SignatureAlgorithm: x509.SHA256WithRSA,
		KeyUsage: x509.KeyUsageCertSign |
			x509.KeyUsageDigitalSignature |
			x509.KeyUsageContentCommitment,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
			x509.ExtKeyUsageCodeSigning,
			x509.ExtKeyUsageEmailProtection,
			x509.ExtKeyUsageTimeStamping,
		},
		BasicConstraintsValid: true,
		IsCA:                  true,
		ExtraExtensions: []pkix.Extension{
			sanExt,
			{Id: oidNetscapeCertType, Value: nsCertType},
		},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, util.NewCryptoError("sign certificate", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, util.NewCryptoError("parse generated certificate", err)
	}

	publicDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, util.NewCryptoError("encode public key", err)
	}

	return &Identity{
		CertificatePEM: string(pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificate, Bytes: certDER})),
		PrivateKeyPEM:  string(pem.EncodeToMemory(&pem.Block{Type: pemTypeRSAKey, Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})),
		PublicKeyPEM:   string(pem.EncodeToMemory(&pem.Block{Type: pemTypePublicKey, Bytes: publicDER})),
		Certificate:    cert,
	}, nil
}

// ParseIdentity parses persisted crypto material and checks that the private
// and public keys belong to the certificate.
func ParseIdentity(c *settings.Crypto) (*Identity, error) {
	if !c.Complete() {
		return nil, fmt.Errorf("%w: incomplete crypto material", util.ErrInvalidCredentials)
	}

	cert, err := ParseCertificatePEM(c.CertificatePEM)
	if err != nil {
		return nil, err
	}

	if _, err := tls.X509KeyPair([]byte(c.CertificatePEM), []byte(c.PrivateKeyPEM)); err != nil {
		return nil, fmt.Errorf("%w: %w", util.ErrInvalidCredentials, err)
	}

	block, _ := pem.Decode([]byte(c.PublicKeyPEM))
	if block == nil || block.Type != pemTypePublicKey {
		return nil, fmt.Errorf("%w: public key is not a PUBLIC KEY PEM block", util.ErrInvalidCredentials)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", util.ErrInvalidCredentials, err)
	}
	if !publicKeysEqual(pub, cert.PublicKey) {
		return nil, fmt.Errorf("%w: public key does not match certificate", util.ErrInvalidCredentials)
	}

	return &Identity{
		CertificatePEM: c.CertificatePEM,
		PrivateKeyPEM:  c.PrivateKeyPEM,
		PublicKeyPEM:   c.PublicKeyPEM,
		Certificate:    cert,
	}, nil
}

// ParseCertificatePEM parses the first CERTIFICATE block in data.
func ParseCertificatePEM(data string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("%w: failed to decode certificate PEM block", util.ErrInvalidCredentials)
	}
	if block.Type != pemTypeCertificate {
		return nil, fmt.Errorf("%w: expected %s PEM block, got %s",
			util.ErrInvalidCredentials, pemTypeCertificate, block.Type)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", util.ErrInvalidCredentials, err)
	}

	return cert, nil
}

type equaler interface {
	Equal(x crypto.PublicKey) bool
}

func publicKeysEqual(a, b any) bool {
	ea, ok := a.(equaler)
	if !ok {
		return false
	}
	return ea.Equal(b)
}
