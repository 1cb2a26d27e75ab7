// Package filestore implements the File and FileMap types that back the
// FileManager's Shared inventory (spec.md §3, §4.3).
//
// Grounded on protocol/rtmp/conn.go's plain-struct-plus-slice style for
// holding connection-scoped collections, generalized to an address-ordered,
// gap-aware collection per spec.md's FileMap invariants.
package filestore

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"

	"github.com/pkg/errors"

	"github.com/cogu/apx-go/remotefile"
)

// FileType classifies how a File's payload is framed on the wire.
type FileType uint16

const (
	TypeFixed     FileType = FileType(remotefile.FileTypeFixed)
	TypeDynamic8  FileType = FileType(remotefile.FileTypeDynamic8)
	TypeDynamic16 FileType = FileType(remotefile.FileTypeDynamic16)
	TypeDynamic32 FileType = FileType(remotefile.FileTypeDynamic32)
	TypeStream    FileType = FileType(remotefile.FileTypeStream)
)

// DigestType identifies the algorithm used to compute a definition file's
// content digest.
type DigestType uint16

const (
	DigestNone   DigestType = DigestType(remotefile.DigestNone)
	DigestSHA1   DigestType = DigestType(remotefile.DigestSHA1)
	DigestSHA256 DigestType = DigestType(remotefile.DigestSHA256)
)

// Owner distinguishes a file published by this side from one learned about
// via a peer's PUBLISH_FILE.
type Owner int8

const (
	OwnerLocal Owner = iota
	OwnerRemote
)

const (
	// MaxNameLen is the longest file name (spec.md §3), matching the
	// RemoteFile PUBLISH_FILE name field's practical limit.
	MaxNameLen = 255
	// DefinitionBase is the first address auto_insert_definition will
	// consider (spec.md §4.3).
	DefinitionBase uint32 = 0x04000000
)

// Recognized file-name extensions (spec.md §3).
const (
	ExtDefinition = ".apx"
	ExtProvide    = ".out"
	ExtRequire    = ".in"
)

// File is a single named, addressed region of the RemoteFile address space.
type File struct {
	Name          string
	Address       uint32
	Size          uint32
	FileType      FileType
	DigestType    DigestType
	Digest        [32]byte
	Owner         Owner
	Open          bool
	HasFirstWrite bool
}

// ErrNameTooLong is returned by NewFile when name exceeds MaxNameLen bytes.
var ErrNameTooLong = errors.New("filestore: name too long")

// NewFile constructs a File, validating the name length.
func NewFile(name string, addr, size uint32, fileType FileType, owner Owner) (*File, error) {
	if len(name) > MaxNameLen {
		return nil, ErrNameTooLong
	}
	return &File{Name: name, Address: addr, Size: size, FileType: fileType, Owner: owner}, nil
}

// End returns the address one past the end of the file's address range.
func (f *File) End() uint32 {
	return f.Address + f.Size
}

// Contains reports whether addr falls within [Address, Address+Size).
func (f *File) Contains(addr uint32) bool {
	return addr >= f.Address && addr < f.End()
}

// SetDigest computes and stores the digest of data using the file's
// DigestType. It is a no-op for DigestNone.
func (f *File) SetDigest(data []byte) {
	switch f.DigestType {
	case DigestSHA1:
		sum := sha1.Sum(data)
		copy(f.Digest[:], sum[:])
	case DigestSHA256:
		sum := sha256.Sum256(data)
		copy(f.Digest[:], sum[:])
	}
}

// VerifyDigest recomputes the digest of data and reports whether it matches
// the file's stored digest. Always true for DigestNone.
func (f *File) VerifyDigest(data []byte) bool {
	switch f.DigestType {
	case DigestSHA1:
		sum := sha1.Sum(data)
		return bytes.Equal(sum[:], f.Digest[:20])
	case DigestSHA256:
		sum := sha256.Sum256(data)
		return bytes.Equal(sum[:], f.Digest[:])
	default:
		return true
	}
}
