// Package filemanager implements the per-connection FileManagerWorker,
// Receiver and Shared inventory (spec.md §4.7): the cooperative engine that
// turns RemoteFile commands and data chunks into file operations, and
// queues outbound RemoteFile messages for a connection's transmit handler.
package filemanager

import (
	"sync"

	"github.com/cogu/apx-go/filestore"
	"github.com/cogu/apx-go/remotefile"
)

// Shared holds a connection's two file maps — files this side has
// published (Local) and files the peer has published (Remote) — guarded
// by a single short-critical-section lock (spec.md §4.7, §5).
type Shared struct {
	mu sync.Mutex

	ConnID    uint64
	Connected bool

	Local  *filestore.FileMap
	Remote *filestore.FileMap
}

// NewShared returns an empty Shared for the given connection id.
func NewShared(connID uint64) *Shared {
	return &Shared{
		ConnID: connID,
		Local:  filestore.NewFileMap(),
		Remote: filestore.NewFileMap(),
	}
}

// PublishLocalDefinition allocates addr for a local definition file (via
// filestore's definition-base auto-insert) and adds it to Local.
func (s *Shared) PublishLocalDefinition(name string, size uint32, digestType filestore.DigestType, digest [32]byte) (*filestore.File, error) {
	return s.publishLocal(name, size, filestore.TypeFixed, digestType, digest, true)
}

// PublishLocalPortData allocates addr for a local provide- or require-port
// data file (via filestore's port-data auto-insert) and adds it to Local.
func (s *Shared) PublishLocalPortData(name string, size uint32) (*filestore.File, error) {
	return s.publishLocal(name, size, filestore.TypeFixed, filestore.DigestNone, [32]byte{}, false)
}

func (s *Shared) publishLocal(name string, size uint32, fileType filestore.FileType, digestType filestore.DigestType, digest [32]byte, isDefinition bool) (*filestore.File, error) {
	f, err := filestore.NewFile(name, 0, size, fileType, filestore.OwnerLocal)
	if err != nil {
		return nil, err
	}
	f.DigestType = digestType
	f.Digest = digest

	s.mu.Lock()
	defer s.mu.Unlock()
	if isDefinition {
		err = s.Local.AutoInsertDefinition(f)
	} else {
		err = s.Local.AutoInsertPortData(f)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// AdoptRemoteFile atomically constructs and inserts a File for a peer's
// PUBLISH_FILE announcement at its announced address (spec.md §4.7:
// "Creation of a remote file from a PUBLISH_FILE command is atomic under
// this lock"). Returns filestore.ErrOverlap if the announced range
// collides with an existing remote file — per spec.md §9, the caller
// should treat this as fatal to the connection.
func (s *Shared) AdoptRemoteFile(pf remotefile.PublishFile) (*filestore.File, error) {
	f, err := filestore.NewFile(pf.Name, pf.Address, pf.Size, filestore.FileType(pf.FileType), filestore.OwnerRemote)
	if err != nil {
		return nil, err
	}
	f.DigestType = filestore.DigestType(pf.DigestType)
	f.Digest = pf.Digest

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Remote.Insert(f); err != nil {
		return nil, err
	}
	return f, nil
}

// RevokeRemoteFile removes a file previously adopted from AdoptRemoteFile.
func (s *Shared) RevokeRemoteFile(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.Remote.FindByName(name)
	if f == nil {
		return
	}
	s.Remote.Remove(f)
}

// FindLocalByAddress looks up a locally-owned file by address.
func (s *Shared) FindLocalByAddress(addr uint32) *filestore.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Local.FindByAddress(addr)
}

// FindRemoteByName looks up a peer-owned file by name.
func (s *Shared) FindRemoteByName(name string) *filestore.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Remote.FindByName(name)
}

// FindRemoteByAddress looks up a peer-owned file containing addr.
func (s *Shared) FindRemoteByAddress(addr uint32) *filestore.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Remote.FindByAddress(addr)
}

// Detach clears both file maps and marks the connection disconnected
// (spec.md §4.8: "fileManager detaches all files").
func (s *Shared) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Local.ClearWeak()
	s.Remote.ClearWeak()
	s.Connected = false
}
