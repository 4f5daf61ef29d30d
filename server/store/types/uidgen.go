package types

import (
	"encoding/base64"
	"encoding/binary"

	sf "github.com/tinode/snowflake"
	"golang.org/x/crypto/xtea"
)

const uidBase64Unpadded = 11

// UidGenerator holds snowflake and encryption parameters. Channel and
// notification ids embed a snowflake-generated uint64, weakly encrypted so
// consecutive ids are not guessable from one another.
type UidGenerator struct {
	seq    *sf.SnowFlake
	cipher *xtea.Cipher
}

// Init initializes the Uid generator.
func (ug *UidGenerator) Init(workerID uint, key []byte) error {
	var err error

	if ug.seq == nil {
		ug.seq, err = sf.NewSnowFlake(uint32(workerID))
	}
	if ug.cipher == nil {
		ug.cipher, err = xtea.NewCipher(key)
	}

	return err
}

// GetStr generates a unique id and returns it as an URL-safe base64 string.
func (ug *UidGenerator) GetStr() string {
	id, err := ug.seq.Next()
	if err != nil {
		return ""
	}

	src := make([]byte, 8)
	dst := make([]byte, 8)
	binary.LittleEndian.PutUint64(src, id)
	ug.cipher.Encrypt(dst, src)

	return base64.URLEncoding.EncodeToString(dst)[:uidBase64Unpadded]
}
