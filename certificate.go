package apns

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/pkcs12"
)

// LoadCertificate returns the TLS certificate from a .p12 file.
func LoadCertificate(filename, password string) (*tls.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	privateKey, x509Cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("certificate %s: %w", filename, err)
	}
	cert := &tls.Certificate{
		Certificate: [][]byte{x509Cert.Raw},
		PrivateKey:  privateKey,
		Leaf:        x509Cert,
	}
	if _, err = x509Cert.Verify(x509.VerifyOptions{}); err != nil {
		if _, ok := err.(x509.UnknownAuthorityError); !ok {
			return cert, err
		}
	}
	return cert, nil
}

// LoadKeyPair returns the TLS certificate from PEM certificate and key files.
func LoadKeyPair(certFile, keyFile string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

// CertificateInfo describes the push certificate.
type CertificateInfo struct {
	CName       string    // certificate full name
	OrgName     string    // organization name
	OrgUnit     string    // organization identifier
	Country     string    // country
	BundleID    string    // bundle ID
	Development bool      // sandbox support flag
	Production  bool      // production support flag
	IsApple     bool      // certificate signed by Apple flag
	Expire      time.Time // expire date and time
}

// GetCertificateInfo parses and returns information about the certificate.
// It returns nil if the certificate can't be parsed.
func GetCertificateInfo(certificate tls.Certificate) *CertificateInfo {
	var cert = certificate.Leaf
	if cert == nil {
		if len(certificate.Certificate) == 0 {
			return nil
		}
		var err error
		cert, err = x509.ParseCertificate(certificate.Certificate[0])
		if err != nil {
			return nil
		}
	}
	var info = &CertificateInfo{
		CName:   cert.Subject.CommonName,
		Expire:  cert.NotAfter,
		IsApple: cert.Issuer.CommonName == appleDevIssuerCN,
	}
	for _, attr := range cert.Subject.Names {
		value, ok := attr.Value.(string)
		if !ok {
			continue
		}
		switch t := attr.Type; {
		case t.Equal(typeOrgName):
			info.OrgName = value
		case t.Equal(typeOrgUnit):
			info.OrgUnit = value
		case t.Equal(typeBundle):
			info.BundleID = value
		case t.Equal(typeCountry):
			info.Country = value
		}
	}
	for _, ext := range cert.Extensions {
		switch {
		case ext.Id.Equal(typeDevelopment):
			info.Development = true
		case ext.Id.Equal(typeProduction):
			info.Production = true
		}
	}
	return info
}

// IsExpired returns true if the certificate is no longer valid at t.
func (i CertificateInfo) IsExpired(t time.Time) bool {
	return !i.Expire.IsZero() && t.After(i.Expire)
}

// String returns the certificate CName.
func (i CertificateInfo) String() string {
	return i.CName
}

const appleDevIssuerCN = "Apple Worldwide Developer Relations Certification Authority"

var (
	typeCountry     = asn1.ObjectIdentifier{2, 5, 4, 6}
	typeOrgName     = asn1.ObjectIdentifier{2, 5, 4, 10}
	typeOrgUnit     = asn1.ObjectIdentifier{2, 5, 4, 11}
	typeBundle      = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 1}
	typeDevelopment = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 3, 1}
	typeProduction  = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 3, 2}
)
