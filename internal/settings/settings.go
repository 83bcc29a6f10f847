// Package settings defines the persisted state of the local REST service and
// the contract for loading and saving it.
//
// Settings are owned by a single controller. Other components receive value
// snapshots (see Clone) and never mutate the live copy.
package settings

import (
	"fmt"
	"strings"

	"github.com/vyrodovalexey/localrest/internal/util"
)

// Default values applied before stored settings are merged in.
const (
	DefaultPort                    = 27124
	DefaultInsecurePort            = 27123
	DefaultBindingHost             = "127.0.0.1"
	DefaultAuthorizationHeaderName = "Authorization"
)

// Crypto is the PEM-encoded identity material. It is replaced as a whole;
// a partially populated value is invalid.
type Crypto struct {
	CertificatePEM string `yaml:"certificatePem" cbor:"certificatePem" json:"certificatePem"`
	PrivateKeyPEM  string `yaml:"privateKeyPem" cbor:"privateKeyPem" json:"privateKeyPem"`
	PublicKeyPEM   string `yaml:"publicKeyPem" cbor:"publicKeyPem" json:"publicKeyPem"`
}

// Complete reports whether all three PEM fields are populated.
func (c *Crypto) Complete() bool {
	return c != nil && c.CertificatePEM != "" && c.PrivateKeyPEM != "" && c.PublicKeyPEM != ""
}

// Settings is the process-wide persisted configuration.
type Settings struct {
	APIKey                  string  `yaml:"apiKey,omitempty" cbor:"apiKey,omitempty" json:"apiKey,omitempty"`
	Crypto                  *Crypto `yaml:"crypto,omitempty" cbor:"crypto,omitempty" json:"crypto,omitempty"`
	Port                    int     `yaml:"port" cbor:"port" json:"port"`
	InsecurePort            int     `yaml:"insecurePort" cbor:"insecurePort" json:"insecurePort"`
	BindingHost             string  `yaml:"bindingHost" cbor:"bindingHost" json:"bindingHost"`
	EnableInsecureServer    bool    `yaml:"enableInsecureServer" cbor:"enableInsecureServer" json:"enableInsecureServer"`
	SubjectAltNames         string  `yaml:"subjectAltNames,omitempty" cbor:"subjectAltNames,omitempty" json:"subjectAltNames,omitempty"`
	AuthorizationHeaderName string  `yaml:"authorizationHeaderName" cbor:"authorizationHeaderName" json:"authorizationHeaderName"`
}

// Defaults returns settings populated with default values. APIKey and Crypto
// are left empty and are generated on activation.
func Defaults() *Settings {
	return &Settings{
		Port:                    DefaultPort,
		InsecurePort:            DefaultInsecurePort,
		BindingHost:             DefaultBindingHost,
		EnableInsecureServer:    false,
		AuthorizationHeaderName: DefaultAuthorizationHeaderName,
	}
}

// Clone returns a deep copy.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	out := *s
	if s.Crypto != nil {
		c := *s.Crypto
		out.Crypto = &c
	}
	return &out
}

// ApplyDefaults fills zero-valued fields that have a default.
func (s *Settings) ApplyDefaults() {
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.InsecurePort == 0 {
		s.InsecurePort = DefaultInsecurePort
	}
	if s.BindingHost == "" {
		s.BindingHost = DefaultBindingHost
	}
	if s.AuthorizationHeaderName == "" {
		s.AuthorizationHeaderName = DefaultAuthorizationHeaderName
	}
}

// Validate checks every field and reports all problems at once.
// An absent APIKey or Crypto is valid; both are filled lazily.
func (s *Settings) Validate() error {
	verr := util.NewValidationError("invalid settings")

	if err := util.ValidatePort(s.Port); err != nil {
		verr.AddField("port", err.Error())
	}
	if err := util.ValidatePort(s.InsecurePort); err != nil {
		verr.AddField("insecurePort", err.Error())
	}
	if s.EnableInsecureServer && s.Port == s.InsecurePort {
		verr.AddField("insecurePort", fmt.Sprintf("must differ from port %d", s.Port))
	}
	if err := util.ValidateIPAddress(s.BindingHost); err != nil {
		verr.AddField("bindingHost", err.Error())
	}
	if err := util.ValidateHeaderName(s.AuthorizationHeaderName); err != nil {
		verr.AddField("authorizationHeaderName", err.Error())
	}
	for _, line := range strings.Split(s.SubjectAltNames, "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		if err := util.ValidateHostname(name); err != nil {
			verr.AddField("subjectAltNames", err.Error())
			break
		}
	}
	if s.Crypto != nil && !s.Crypto.Complete() {
		verr.AddField("crypto", "certificate, private key and public key must be set together")
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}
