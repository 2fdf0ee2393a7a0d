// Package token mints the signed binary credentials the media relay requires
// for admission. The wire layout is fixed by the relay vendor: a 3-character
// version tag followed by the base64 encoding of a little-endian packed body
// whose trailing bytes are an HMAC-SHA256 signature over the app certificate.
package token

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const Version = "007"

const DefaultTTL = 3600

// The relay caps channel names and app ids well below this; anything longer
// is garbage. Both travel through a 16-bit length-prefixed string field, so
// the bound also keeps the encoder from ever truncating.
const (
	maxChannelLen = 255
	maxAppIDLen   = 255
)

type Role uint8

const (
	RolePublisher = Role(iota)
	RoleSubscriber
)

type privilege = uint16

const (
	privJoinChannel  = privilege(1)
	privPublishAudio = privilege(2)
	privPublishVideo = privilege(3)
	privPublishData  = privilege(4)
)

const (
	serviceTypeRTC = uint16(1)
)

var (
	ErrMissingCredentials = errors.New("relay app id or certificate is not configured")
	ErrInvalidAppID       = errors.New("relay app id is malformed")
	ErrInvalidChannel     = errors.New("invalid channel name")
	ErrInvalidTTL         = errors.New("ttl must be positive")
	ErrMalformedToken     = errors.New("malformed relay token")
	ErrBadSignature       = errors.New("relay token signature mismatch")
)

// Credential is the ephemeral admission proof handed to a client. It is never
// persisted and never reused across sessions.
type Credential struct {
	AppID      string    `json:"app_id"`
	Token      string    `json:"token"`
	Channel    string    `json:"channel"`
	SubjectUID uint32    `json:"subject_uid"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Issuer is stateless apart from its immutable configuration and is safe for
// unbounded concurrent use.
type Issuer struct {
	appID   string
	appCert string

	now func() time.Time
}

func NewIssuer(appID, appCert string) (*Issuer, error) {
	if len(appID) == 0 || len(appCert) == 0 {
		return nil, ErrMissingCredentials
	}
	if len(appID) > maxAppIDLen {
		return nil, ErrInvalidAppID
	}
	return &Issuer{appID: appID, appCert: appCert, now: time.Now}, nil
}

// IssueCredential mints a credential admitting the subject to the given relay
// channel. Publishers additionally receive audio/video/data publish rights.
// A non-positive ttl falls back to DefaultTTL.
func (i *Issuer) IssueCredential(channel string, subjectUid uint32, role Role, ttlSeconds int) (Credential, error) {
	if len(channel) == 0 || len(channel) > maxChannelLen {
		return Credential{}, ErrInvalidChannel
	}
	if ttlSeconds < 0 {
		return Credential{}, ErrInvalidTTL
	}
	if ttlSeconds == 0 {
		ttlSeconds = DefaultTTL
	}

	issuedAt := uint32(i.now().Unix())
	ttl := uint32(ttlSeconds)
	expiresAt := issuedAt + ttl

	var saltRaw [4]byte
	if _, err := rand.Read(saltRaw[:]); err != nil {
		return Credential{}, fmt.Errorf("failed to source salt: %w", err)
	}
	salt := binary.LittleEndian.Uint32(saltRaw[:])

	privileges := [][2]uint32{{uint32(privJoinChannel), expiresAt}}
	if role == RolePublisher {
		privileges = append(privileges,
			[2]uint32{uint32(privPublishAudio), expiresAt},
			[2]uint32{uint32(privPublishVideo), expiresAt},
			[2]uint32{uint32(privPublishData), expiresAt},
		)
	}

	privPacked := packPrivileges(privileges)

	// The signed message covers everything but the identity fields; those
	// are mixed into the MAC input directly.
	signed := new(bytes.Buffer)
	writeUint32(signed, salt)
	writeUint32(signed, issuedAt)
	writeUint32(signed, ttl)
	writeUint16(signed, 1) // service count
	writeUint16(signed, serviceTypeRTC)
	signed.Write(privPacked)

	mac := hmac.New(sha256.New, []byte(i.appCert))
	mac.Write([]byte(i.appID))
	mac.Write([]byte(channel))
	var uidRaw [4]byte
	binary.LittleEndian.PutUint32(uidRaw[:], subjectUid)
	mac.Write(uidRaw[:])
	mac.Write(signed.Bytes())
	signature := mac.Sum(nil)

	body := new(bytes.Buffer)
	writeString(body, i.appID)
	writeUint32(body, issuedAt)
	writeUint32(body, ttl)
	writeUint32(body, salt)
	writeUint16(body, 1) // service count
	writeUint16(body, serviceTypeRTC)
	writeString(body, channel)
	writeUint32(body, subjectUid)
	body.Write(privPacked)
	writeUint16(body, uint16(len(signature)))
	body.Write(signature)

	return Credential{
		AppID:      i.appID,
		Token:      Version + base64.StdEncoding.EncodeToString(body.Bytes()),
		Channel:    channel,
		SubjectUID: subjectUid,
		ExpiresAt:  time.Unix(int64(expiresAt), 0),
	}, nil
}

// TokenInfo is the decoded view of an encoded token, used by the verification
// path and by tests.
type TokenInfo struct {
	AppID      string
	Channel    string
	SubjectUID uint32
	IssuedAt   uint32
	TTL        uint32
	Salt       uint32
	Privileges map[uint16]uint32
	Signature  []byte
}

func (t TokenInfo) ExpiresAt() time.Time {
	return time.Unix(int64(t.IssuedAt+t.TTL), 0)
}

// ParseToken decodes a token without checking its signature.
func ParseToken(raw string) (TokenInfo, error) {
	var info TokenInfo
	if len(raw) < len(Version) || raw[:len(Version)] != Version {
		return info, fmt.Errorf("%w: bad version tag", ErrMalformedToken)
	}
	data, err := base64.StdEncoding.DecodeString(raw[len(Version):])
	if err != nil {
		return info, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	r := bytes.NewReader(data)
	if info.AppID, err = readString(r); err != nil {
		return info, err
	}
	if info.IssuedAt, err = readUint32(r); err != nil {
		return info, err
	}
	if info.TTL, err = readUint32(r); err != nil {
		return info, err
	}
	if info.Salt, err = readUint32(r); err != nil {
		return info, err
	}
	var svcCount, svcType uint16
	if svcCount, err = readUint16(r); err != nil {
		return info, err
	}
	if svcType, err = readUint16(r); err != nil {
		return info, err
	}
	if svcCount != 1 || svcType != serviceTypeRTC {
		return info, fmt.Errorf("%w: unexpected service table", ErrMalformedToken)
	}
	if info.Channel, err = readString(r); err != nil {
		return info, err
	}
	if info.SubjectUID, err = readUint32(r); err != nil {
		return info, err
	}
	privCount, err := readUint16(r)
	if err != nil {
		return info, err
	}
	info.Privileges = make(map[uint16]uint32, privCount)
	for n := 0; n < int(privCount); n++ {
		id, err := readUint16(r)
		if err != nil {
			return info, err
		}
		expiry, err := readUint32(r)
		if err != nil {
			return info, err
		}
		info.Privileges[id] = expiry
	}
	sigLen, err := readUint16(r)
	if err != nil {
		return info, err
	}
	info.Signature = make([]byte, sigLen)
	if _, err := io.ReadFull(r, info.Signature); err != nil || r.Len() != 0 {
		return info, fmt.Errorf("%w: truncated signature", ErrMalformedToken)
	}

	return info, nil
}

// VerifyToken decodes a token and checks its signature against the given app
// certificate, mirroring what the relay does at admission time.
func VerifyToken(raw, appCert string) (TokenInfo, error) {
	info, err := ParseToken(raw)
	if err != nil {
		return info, err
	}

	privileges := make([][2]uint32, 0, len(info.Privileges))
	for _, id := range []privilege{privJoinChannel, privPublishAudio, privPublishVideo, privPublishData} {
		if expiry, ok := info.Privileges[id]; ok {
			privileges = append(privileges, [2]uint32{uint32(id), expiry})
		}
	}

	signed := new(bytes.Buffer)
	writeUint32(signed, info.Salt)
	writeUint32(signed, info.IssuedAt)
	writeUint32(signed, info.TTL)
	writeUint16(signed, 1)
	writeUint16(signed, serviceTypeRTC)
	signed.Write(packPrivileges(privileges))

	mac := hmac.New(sha256.New, []byte(appCert))
	mac.Write([]byte(info.AppID))
	mac.Write([]byte(info.Channel))
	var uidRaw [4]byte
	binary.LittleEndian.PutUint32(uidRaw[:], info.SubjectUID)
	mac.Write(uidRaw[:])
	mac.Write(signed.Bytes())

	if !hmac.Equal(mac.Sum(nil), info.Signature) {
		return info, ErrBadSignature
	}
	return info, nil
}

func packPrivileges(privileges [][2]uint32) []byte {
	buf := new(bytes.Buffer)
	writeUint16(buf, uint16(len(privileges)))
	for _, p := range privileges {
		writeUint16(buf, uint16(p[0]))
		writeUint32(buf, p[1])
	}
	return buf.Bytes()
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var raw [2]byte
	binary.LittleEndian.PutUint16(raw[:], v)
	buf.Write(raw[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], v)
	buf.Write(raw[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint16(buf, uint16(len(s)))
	buf.WriteString(s)
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var raw [2]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return 0, fmt.Errorf("%w: truncated", ErrMalformedToken)
	}
	return binary.LittleEndian.Uint16(raw[:]), nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var raw [4]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return 0, fmt.Errorf("%w: truncated", ErrMalformedToken)
	}
	return binary.LittleEndian.Uint32(raw[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	size, err := readUint16(r)
	if err != nil {
		return "", err
	}
	raw := make([]byte, size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", fmt.Errorf("%w: truncated string", ErrMalformedToken)
	}
	return string(raw), nil
}
