// Package srtp wraps the pion SRTP contexts behind the transformer
// contract the pipelines consume. The DTLS handshake itself happens
// elsewhere; this package only needs its keying-material exporter.
package srtp

import (
	"errors"

	"github.com/pion/dtls/v2"
	"github.com/pion/logging"
	srtplib "github.com/pion/srtp"
)

const (
	keyingLabel = "EXTRACTOR-dtls_srtp"

	keyLen  = 16
	saltLen = 14
)

var (
	errUnsupportedProfile = errors.New("srtp: unsupported protection profile")
	errNoExporter         = errors.New("srtp: keying material exporter is nil")
)

// PacketTransformer applies a protocol transform to outgoing buffers
// and reverses it on incoming ones. An error means the packet is
// dropped. Implementations tolerate concurrent calls from one
// direction only.
type PacketTransformer interface {
	Transform(buf []byte) ([]byte, error)
	ReverseTransform(buf []byte) ([]byte, error)
}

// KeyingMaterialExporter is the one piece of the DTLS stack this
// package consumes.
type KeyingMaterialExporter interface {
	ExportKeyingMaterial(label string, context []byte, length int) ([]byte, error)
}

// Config describes one endpoint's SRTP setup
type Config struct {
	Profile  dtls.SRTPProtectionProfile
	Exporter KeyingMaterialExporter
	// Client is true when the local side acted as DTLS client, which
	// decides write-key ordering in the exported material.
	Client        bool
	LoggerFactory logging.LoggerFactory
}

// Identity passes buffers through untouched. Used before keys exist in
// tests and loopback setups.
type Identity struct{}

// Transform returns buf unchanged
func (Identity) Transform(buf []byte) ([]byte, error) { return buf, nil }

// ReverseTransform returns buf unchanged
func (Identity) ReverseTransform(buf []byte) ([]byte, error) { return buf, nil }

type transformer struct {
	local  *srtplib.Context
	remote *srtplib.Context
	rtcp   bool
	log    logging.LeveledLogger
}

func (t *transformer) Transform(buf []byte) ([]byte, error) {
	if t.rtcp {
		return t.local.EncryptRTCP(nil, buf, nil)
	}
	return t.local.EncryptRTP(nil, buf, nil)
}

func (t *transformer) ReverseTransform(buf []byte) ([]byte, error) {
	if t.rtcp {
		out, err := t.remote.DecryptRTCP(nil, buf, nil)
		if err != nil {
			t.log.Tracef("srtcp reverse transform failed: %v", err)
		}
		return out, err
	}
	out, err := t.remote.DecryptRTP(nil, buf, nil)
	if err != nil {
		t.log.Tracef("srtp reverse transform failed: %v", err)
	}
	return out, err
}

func protectionProfile(p dtls.SRTPProtectionProfile) (srtplib.ProtectionProfile, error) {
	switch p {
	case dtls.SRTP_AES128_CM_HMAC_SHA1_80:
		return srtplib.ProtectionProfileAes128CmHmacSha1_80, nil
	default:
		return 0, errUnsupportedProfile
	}
}

// NewTransformerPair derives keying material per RFC 5764 and returns
// the SRTP and SRTCP transformers for this endpoint, each handling
// both directions.
func NewTransformerPair(c Config) (rtp, rtcp PacketTransformer, err error) {
	if c.Exporter == nil {
		return nil, nil, errNoExporter
	}
	profile, err := protectionProfile(c.Profile)
	if err != nil {
		return nil, nil, err
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	material, err := c.Exporter.ExportKeyingMaterial(keyingLabel, nil, 2*(keyLen+saltLen))
	if err != nil {
		return nil, nil, err
	}

	offset := 0
	clientKey := append([]byte{}, material[offset:offset+keyLen]...)
	offset += keyLen
	serverKey := append([]byte{}, material[offset:offset+keyLen]...)
	offset += keyLen
	clientSalt := append([]byte{}, material[offset:offset+saltLen]...)
	offset += saltLen
	serverSalt := append([]byte{}, material[offset:offset+saltLen]...)

	localKey, localSalt := clientKey, clientSalt
	remoteKey, remoteSalt := serverKey, serverSalt
	if !c.Client {
		localKey, localSalt = serverKey, serverSalt
		remoteKey, remoteSalt = clientKey, clientSalt
	}

	local, err := srtplib.CreateContext(localKey, localSalt, profile)
	if err != nil {
		return nil, nil, err
	}
	remote, err := srtplib.CreateContext(remoteKey, remoteSalt, profile)
	if err != nil {
		return nil, nil, err
	}

	logger := c.LoggerFactory.NewLogger("srtp")
	rtp = &transformer{local: local, remote: remote, log: logger}
	rtcp = &transformer{local: local, remote: remote, rtcp: true, log: logger}
	return rtp, rtcp, nil
}
