package crypto

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// EncVer is the payload version the controller expects inside info.
const EncVer = "srun_bx1"

// Info is the credential payload carried by the info query parameter.
type Info struct {
	Username string `json:"username"`
	Password string `json:"password"`
	IP       string `json:"ip"`
	ACID     int    `json:"acid"`
	EncVer   string `json:"enc_ver"`
}

// ChecksumFields are the values folded into chksum, in the order they are joined.
type ChecksumFields struct {
	Username string
	HMD5     string
	ACID     int
	IP       string
	N        int
	Type     int
	Info     string
}

// PasswordHMAC returns the lowercase hex HMAC-MD5 of password keyed by the challenge token.
func PasswordHMAC(token, password string) string {
	mac := hmac.New(md5.New, []byte(token))
	mac.Write([]byte(password))
	return hex.EncodeToString(mac.Sum(nil))
}

// EncodeInfo serializes info, XEncodes it with token and returns the tagged base64 string.
// EncVer is filled in when empty.
func EncodeInfo(info Info, token string) (string, error) {
	if info.EncVer == "" {
		info.EncVer = EncVer
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(info); err != nil {
		return "", fmt.Errorf("marshaling info: %w", err)
	}
	plain := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	return InfoTag + InfoEncoding.EncodeToString(XEncode(plain, []byte(token))), nil
}

// DecodeInfo reverses EncodeInfo. The tag is optional.
func DecodeInfo(encoded, token string) (Info, error) {
	raw, err := InfoEncoding.DecodeString(strings.TrimPrefix(encoded, InfoTag))
	if err != nil {
		return Info{}, fmt.Errorf("decoding info base64: %w", err)
	}
	plain, err := XDecode(raw, []byte(token))
	if err != nil {
		return Info{}, fmt.Errorf("decoding info: %w", err)
	}

	var info Info
	if err := json.Unmarshal(plain, &info); err != nil {
		return Info{}, fmt.Errorf("parsing info json: %w", err)
	}
	return info, nil
}

// Checksum returns the SHA-1 hex digest of the fields joined by token.
// The join starts with an empty element, so the digest input opens with one copy of token.
func Checksum(token string, f ChecksumFields) string {
	parts := []string{
		"",
		f.Username,
		f.HMD5,
		strconv.Itoa(f.ACID),
		f.IP,
		strconv.Itoa(f.N),
		strconv.Itoa(f.Type),
		f.Info,
	}
	sum := sha1.Sum([]byte(strings.Join(parts, token)))
	return hex.EncodeToString(sum[:])
}
