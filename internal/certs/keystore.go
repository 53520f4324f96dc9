// ABOUTME: PKCS12 keystore encoding/decoding and self-signed certificate creation
// ABOUTME: Wraps go-pkcs12 and crypto/x509 into immutable Material values

package certs

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

const (
	rsaKeyBits = 2048
	validity   = 365 * 24 * time.Hour
)

// Source identifies which keystore slot a Material came from.
type Source string

const (
	SourceSelfSigned Source = "self_signed"
	SourceCustom     Source = "custom"
)

// Valid reports whether s names a known slot.
func (s Source) Valid() bool {
	return s == SourceSelfSigned || s == SourceCustom
}

// filename is the keystore file for the slot.
func (s Source) filename() string {
	return string(s) + ".p12"
}

// Material is a decoded keystore. It is never modified after creation.
type Material struct {
	KeystoreBytes []byte
	Password      string
	Hostname      string
	NotBefore     time.Time
	NotAfter      time.Time
	Source        Source

	// Certificate is the serving certificate. It is empty when the keystore
	// holds no private key.
	Certificate tls.Certificate
	leaf        *x509.Certificate
	certCount   int
}

// HasKey reports whether the material can serve TLS.
func (m *Material) HasKey() bool {
	return m != nil && m.Certificate.PrivateKey != nil
}

// Leaf returns the end-entity certificate, or nil for an empty keystore.
func (m *Material) Leaf() *x509.Certificate {
	return m.leaf
}

// CertificateCount is the number of certificates in the keystore.
func (m *Material) CertificateCount() int {
	return m.certCount
}

// Expired reports whether the certificate is outside its validity window at t.
func (m *Material) Expired(t time.Time) bool {
	if m.leaf == nil {
		return false
	}
	return t.Before(m.NotBefore) || t.After(m.NotAfter)
}

// newSelfSigned creates an RSA key and a self-signed certificate for hostname.
func newSelfSigned(hostname string, now time.Time) (*rsa.PrivateKey, *x509.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("generating RSA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("generating serial number: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: hostname, Organization: []string{"beacon"}},
		NotBefore:             now,
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	if ip := net.ParseIP(hostname); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{hostname}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing generated certificate: %w", err)
	}
	return key, cert, nil
}

// encodeKeystore writes key and cert into a password protected PKCS12 keystore.
func encodeKeystore(key crypto.PrivateKey, cert *x509.Certificate, password string) ([]byte, error) {
	data, err := pkcs12.Modern.Encode(key, cert, nil, password)
	if err != nil {
		return nil, fmt.Errorf("encoding keystore: %w", err)
	}
	return data, nil
}

// errMissingKey is the message go-pkcs12 reports once the MAC and every bag
// have been read and no key bag was found. It has no exported sentinel.
const errMissingKey = "pkcs12: private key missing"

// decodeKeystore opens a PKCS12 keystore with password. A keystore holding
// a key and chain yields servable material. A keystore holding only
// certificates decodes without a key; Java trust stores also expose their
// certificates. A wrong password or corrupt data is an error.
func decodeKeystore(data []byte, password string, source Source) (*Material, error) {
	key, leaf, chain, err := pkcs12.DecodeChain(data, password)
	if err == nil {
		return newMaterial(data, password, source, key, leaf, chain)
	}
	if errors.Is(err, pkcs12.ErrIncorrectPassword) {
		return nil, ErrIncorrectPassword
	}

	certs, tsErr := pkcs12.DecodeTrustStore(data, password)
	if tsErr == nil {
		var first *x509.Certificate
		var rest []*x509.Certificate
		if len(certs) > 0 {
			first, rest = certs[0], certs[1:]
		}
		return newMaterial(data, password, source, nil, first, rest)
	}
	if errors.Is(tsErr, pkcs12.ErrIncorrectPassword) {
		return nil, ErrIncorrectPassword
	}

	// Certificates without the Java trust attribute: the file is sound but
	// go-pkcs12 does not hand back its certificates.
	if err.Error() == errMissingKey {
		return newMaterial(data, password, source, nil, nil, nil)
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidKeystore, err)
}

func newMaterial(data []byte, password string, source Source, key any, leaf *x509.Certificate, chain []*x509.Certificate) (*Material, error) {
	m := &Material{
		KeystoreBytes: append([]byte(nil), data...),
		Password:      password,
		Source:        source,
		leaf:          leaf,
	}
	if leaf == nil {
		return m, nil
	}

	m.certCount = 1 + len(chain)
	m.NotBefore = leaf.NotBefore
	m.NotAfter = leaf.NotAfter
	m.Hostname = hostnameOf(leaf)

	if key != nil {
		m.Certificate = tls.Certificate{
			Certificate: [][]byte{leaf.Raw},
			PrivateKey:  key,
			Leaf:        leaf,
		}
		for _, c := range chain {
			m.Certificate.Certificate = append(m.Certificate.Certificate, c.Raw)
		}
	}
	return m, nil
}

// hostnameOf returns the subject common name, falling back to the first SAN.
func hostnameOf(cert *x509.Certificate) string {
	if cert.Subject.CommonName != "" {
		return cert.Subject.CommonName
	}
	if len(cert.DNSNames) > 0 {
		return cert.DNSNames[0]
	}
	if len(cert.IPAddresses) > 0 {
		return cert.IPAddresses[0].String()
	}
	return ""
}
