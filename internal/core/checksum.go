package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// checksumBlockSize is the size of the blocks fed to the hash while streaming.
const checksumBlockSize = 64 * 1024

// ChecksumLength is the length of a hex encoded checksum.
const ChecksumLength = sha256.Size * 2

// Checksum streams r in fixed-size blocks and returns the hex encoded SHA-256
// digest of its content. The stream is rewound before and after hashing so
// later stages can reread it from the start.
func Checksum(r io.ReadSeeker) (string, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind stream: %w", err)
	}

	hasher := sha256.New()
	buf := make([]byte, checksumBlockSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			hasher.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read stream: %w", err)
		}
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind stream: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ValidChecksum reports whether s looks like a checksum produced by Checksum.
// Store and staging paths are derived from checksums, so anything else must be
// rejected before it reaches the filesystem.
func ValidChecksum(s string) bool {
	if len(s) != ChecksumLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
