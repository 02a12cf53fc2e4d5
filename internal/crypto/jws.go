// Package crypto signs and verifies run manifests with detached RS256 JWS.
package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
)

var ErrBadSignature = errors.New("crypto: signature does not match payload")

// JWS is a flattened JWS. Payload is empty when detached.
type JWS struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload,omitempty"`
	Signature string `json:"signature"`
}

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ,omitempty"`
}

// SignDetachedJWS signs payload with the PEM encoded RSA key; the payload is
// not embedded in the result.
func SignDetachedJWS(payload []byte, privateKeyPEM []byte) (JWS, error) {
	hb, err := json.Marshal(header{Alg: "RS256", Typ: "JWT"})
	if err != nil {
		return JWS{}, err
	}
	protected := base64.RawURLEncoding.EncodeToString(hb)

	priv, err := parseRSAPrivateKey(privateKeyPEM)
	if err != nil {
		return JWS{}, err
	}
	h := sha256.Sum256(signingInput(protected, payload))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, h[:])
	if err != nil {
		return JWS{}, err
	}
	return JWS{
		Protected: protected,
		Signature: base64.RawURLEncoding.EncodeToString(sig),
	}, nil
}

// ParseDetachedJWS decodes a JWS written by Marshal.
func ParseDetachedJWS(data []byte) (JWS, error) {
	var j JWS
	if err := json.Unmarshal(data, &j); err != nil {
		return JWS{}, err
	}
	if j.Protected == "" || j.Signature == "" {
		return JWS{}, errors.New("crypto: incomplete jws")
	}
	return j, nil
}

// VerifyDetachedJWS checks j against payload with the RSA public key or
// certificate in publicPEM.
func VerifyDetachedJWS(payload []byte, j JWS, publicPEM []byte) error {
	hb, err := base64.RawURLEncoding.DecodeString(j.Protected)
	if err != nil {
		return fmt.Errorf("crypto: protected header: %w", err)
	}
	var hdr header
	if err := json.Unmarshal(hb, &hdr); err != nil {
		return fmt.Errorf("crypto: protected header: %w", err)
	}
	if hdr.Alg != "RS256" {
		return fmt.Errorf("crypto: unsupported alg %q", hdr.Alg)
	}
	sig, err := base64.RawURLEncoding.DecodeString(j.Signature)
	if err != nil {
		return fmt.Errorf("crypto: signature: %w", err)
	}
	pub, err := parseRSAPublicKey(publicPEM)
	if err != nil {
		return err
	}
	h := sha256.Sum256(signingInput(j.Protected, payload))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], sig); err != nil {
		return ErrBadSignature
	}
	return nil
}

// Marshal renders j as indented JSON.
func Marshal(j JWS) ([]byte, error) {
	return json.MarshalIndent(j, "", "  ")
}

func signingInput(protected string, payload []byte) []byte {
	return []byte(protected + "." + base64.RawURLEncoding.EncodeToString(payload))
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no pem block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an rsa private key")
	}
	return rsaKey, nil
}

func parseRSAPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no pem block")
	}
	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("certificate key is not rsa")
		}
		return pub, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an rsa public key")
		}
		return pub, nil
	}
}
