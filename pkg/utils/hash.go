// pkg/utils/hash.go - file digests used for download checks and certificate fingerprints.

package utils

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"strings"
)

// FileMD5 returns the hex MD5 sum of a file.
func FileMD5(path string) (string, error) {
	return fileDigest(path, md5.New())
}

// FileSHA256 returns the hex SHA256 sum of a file.
func FileSHA256(path string) (string, error) {
	return fileDigest(path, sha256.New())
}

func fileDigest(path string, h hash.Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MatchesMD5 reports whether the file exists and its MD5 equals expected (case-insensitive hex).
// An empty expected value only checks existence.
func MatchesMD5(path, expected string) bool {
	if expected == "" {
		info, err := os.Stat(path)
		return err == nil && !info.IsDir()
	}
	sum, err := FileMD5(path)
	if err != nil {
		return false
	}
	return strings.EqualFold(sum, strings.TrimSpace(expected))
}

// SHA256Hex returns the lower-case hex SHA256 of data, the form used for certificate fingerprints.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
