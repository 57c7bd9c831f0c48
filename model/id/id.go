package id

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rosschurchill/upnpav/log"
)

// NewRandom returns a 22-char base62 random id, used for playlist file
// names.
func NewRandom() string {
	id, err := gonanoid.Generate("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz", 22)
	if err != nil {
		log.Error("Could not generate new ID", err)
	}
	return id
}

// NewHash generates a deterministic id from the input data, truncated to
// 128 bits for format compatibility with NewRandom.
func NewHash(data ...string) string {
	hash := sha256.New()
	for _, d := range data {
		hash.Write([]byte(strings.ToLower(d)))
		hash.Write([]byte{0})
	}
	h := hash.Sum(nil)[:16]
	bi := big.NewInt(0)
	bi.SetBytes(h)
	return fmt.Sprintf("%022s", bi.Text(62))
}
