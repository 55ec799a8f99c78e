// Package mock is an in-memory native store used by tests and local
// tooling. It keeps separate local and remote object maps so tests can
// steer each stage of a fetch cascade, records every batch call, and
// supports failure injection.
package mock

import (
	"fmt"
	"path"
	"sync"

	"github.com/arborfs/arbor/pkg/backend"
	"github.com/arborfs/arbor/pkg/model"
)

var _ backend.Store = &Store{}

// CallRecord captures one adapter invocation
type CallRecord struct {
	Type  backend.ObjectType
	Mode  backend.FetchMode
	Batch bool
	Nodes []model.Hash20
}

// Store is the mock native store
type Store struct {
	mu sync.Mutex

	repoName   string
	dogfooding bool

	localTrees  map[model.Hash20]*model.Tree
	remoteTrees map[model.Hash20]*model.Tree
	localBlobs  map[model.Hash20]*model.Blob
	remoteBlobs map[model.Hash20]*model.Blob

	localBlobAux  map[model.Hash20]*model.BlobAuxData
	remoteBlobAux map[model.Hash20]*model.BlobAuxData
	localTreeAux  map[model.Hash20]*model.TreeAuxData
	remoteTreeAux map[model.Hash20]*model.TreeAuxData

	// staged objects become local on the next Flush, modeling data
	// written to the cache while requests were in flight
	stagedTrees map[model.Hash20]*model.Tree
	stagedBlobs map[model.Hash20]*model.Blob

	manifests map[model.Hash20]model.Hash20
	globs     map[string][]string

	// transient failure budget per node: fail that many calls with
	// ErrTransient before serving
	transient map[model.Hash20]int

	calls []CallRecord
}

// New creates an empty mock store
func New(repoName string) *Store {
	return &Store{
		repoName:      repoName,
		localTrees:    make(map[model.Hash20]*model.Tree),
		remoteTrees:   make(map[model.Hash20]*model.Tree),
		localBlobs:    make(map[model.Hash20]*model.Blob),
		remoteBlobs:   make(map[model.Hash20]*model.Blob),
		localBlobAux:  make(map[model.Hash20]*model.BlobAuxData),
		remoteBlobAux: make(map[model.Hash20]*model.BlobAuxData),
		localTreeAux:  make(map[model.Hash20]*model.TreeAuxData),
		remoteTreeAux: make(map[model.Hash20]*model.TreeAuxData),
		stagedTrees:   make(map[model.Hash20]*model.Tree),
		stagedBlobs:   make(map[model.Hash20]*model.Blob),
		manifests:     make(map[model.Hash20]model.Hash20),
		globs:         make(map[string][]string),
		transient:     make(map[model.Hash20]int),
	}
}

/* ====== population helpers ====== */

// AddLocalBlob makes a blob available to local fetches
func (s *Store) AddLocalBlob(node model.Hash20, blob *model.Blob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localBlobs[node] = blob
}

// AddRemoteBlob makes a blob available to remote fetches only
func (s *Store) AddRemoteBlob(node model.Hash20, blob *model.Blob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteBlobs[node] = blob
}

// AddLocalTree makes a tree available to local fetches
func (s *Store) AddLocalTree(node model.Hash20, tree *model.Tree) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localTrees[node] = tree
}

// AddRemoteTree makes a tree available to remote fetches only
func (s *Store) AddRemoteTree(node model.Hash20, tree *model.Tree) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteTrees[node] = tree
}

// AddLocalBlobAux publishes blob aux data for local fetches
func (s *Store) AddLocalBlobAux(node model.Hash20, aux *model.BlobAuxData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localBlobAux[node] = aux
}

// AddRemoteBlobAux publishes blob aux data for remote fetches only
func (s *Store) AddRemoteBlobAux(node model.Hash20, aux *model.BlobAuxData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteBlobAux[node] = aux
}

// AddLocalTreeAux publishes tree aux data for local fetches
func (s *Store) AddLocalTreeAux(node model.Hash20, aux *model.TreeAuxData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localTreeAux[node] = aux
}

// AddRemoteTreeAux publishes tree aux data for remote fetches only
func (s *Store) AddRemoteTreeAux(node model.Hash20, aux *model.TreeAuxData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteTreeAux[node] = aux
}

// StageBlob holds a blob back until the next Flush
func (s *Store) StageBlob(node model.Hash20, blob *model.Blob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stagedBlobs[node] = blob
}

// StageTree holds a tree back until the next Flush
func (s *Store) StageTree(node model.Hash20, tree *model.Tree) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stagedTrees[node] = tree
}

// SetManifest maps a commit to its root tree node
func (s *Store) SetManifest(commit, manifest model.Hash20) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests[commit] = manifest
}

// SetGlobFiles fixes the response for a (root, glob) pair
func (s *Store) SetGlobFiles(root model.RootID, glob string, files []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globs[root.String()+"|"+glob] = files
}

// FailTransiently makes the next n fetches of a node fail with
// ErrTransient
func (s *Store) FailTransiently(node model.Hash20, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transient[node] = n
}

// SetDogfooding flags the host for telemetry bucketing
func (s *Store) SetDogfooding(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dogfooding = on
}

// Calls returns a copy of the recorded adapter invocations
func (s *Store) Calls() []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallRecord, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsOf filters recorded invocations by object type
func (s *Store) CallsOf(t backend.ObjectType) []CallRecord {
	var out []CallRecord
	for _, c := range s.Calls() {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) record(t backend.ObjectType, mode backend.FetchMode, batch bool, nodes []model.Hash20) {
	s.calls = append(s.calls, CallRecord{Type: t, Mode: mode, Batch: batch, Nodes: nodes})
}

func (s *Store) burnTransient(node model.Hash20) bool {
	if left, ok := s.transient[node]; ok && left > 0 {
		s.transient[node] = left - 1
		return true
	}
	return false
}

/* ====== backend.Store ====== */

func modeLocal(mode backend.FetchMode) bool {
	return mode == backend.LocalOnly || mode == backend.AllowRemote || mode == backend.AllowRemotePrefetch
}

func modeRemote(mode backend.FetchMode) bool {
	return mode != backend.LocalOnly
}

func lookup[T any](s *Store, node model.Hash20, mode backend.FetchMode, local, remote map[model.Hash20]T) (T, error) {
	var zero T
	if s.burnTransient(node) {
		return zero, backend.ErrTransient
	}
	if modeLocal(mode) {
		if v, ok := local[node]; ok {
			return v, nil
		}
	}
	if modeRemote(mode) {
		if v, ok := remote[node]; ok {
			return v, nil
		}
	}
	return zero, fmt.Errorf("%v in mode %v: %w", node, mode, backend.ErrObjectNotFound)
}

func auxMode(localOnly bool) backend.FetchMode {
	if localOnly {
		return backend.LocalOnly
	}
	return backend.AllowRemote
}

// GetTree fetches a single tree
func (s *Store) GetTree(node model.Hash20, mode backend.FetchMode) (*model.Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(backend.TypeTree, mode, false, []model.Hash20{node})
	return lookup(s, node, mode, s.localTrees, s.remoteTrees)
}

// GetTreeBatch resolves a batch of tree requests
func (s *Store) GetTreeBatch(requests []backend.Request, mode backend.FetchMode, cb func(int, *model.Tree, error)) {
	s.mu.Lock()
	nodes := nodesOf(requests)
	s.record(backend.TypeTree, mode, true, nodes)
	results := make([]*model.Tree, len(requests))
	errs := make([]error, len(requests))
	for i, r := range requests {
		results[i], errs[i] = lookup(s, r.Node, mode, s.localTrees, s.remoteTrees)
	}
	s.mu.Unlock()
	for i := range requests {
		cb(i, results[i], errs[i])
	}
}

// GetBlob fetches a single blob
func (s *Store) GetBlob(node model.Hash20, mode backend.FetchMode) (*model.Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(backend.TypeBlob, mode, false, []model.Hash20{node})
	return lookup(s, node, mode, s.localBlobs, s.remoteBlobs)
}

// GetBlobBatch resolves a batch of blob requests
func (s *Store) GetBlobBatch(requests []backend.Request, mode backend.FetchMode, cb func(int, *model.Blob, error)) {
	s.mu.Lock()
	nodes := nodesOf(requests)
	s.record(backend.TypeBlob, mode, true, nodes)
	results := make([]*model.Blob, len(requests))
	errs := make([]error, len(requests))
	for i, r := range requests {
		results[i], errs[i] = lookup(s, r.Node, mode, s.localBlobs, s.remoteBlobs)
	}
	s.mu.Unlock()
	for i := range requests {
		cb(i, results[i], errs[i])
	}
}

// GetBlobAuxData fetches blob summary data
func (s *Store) GetBlobAuxData(node model.Hash20, localOnly bool) (*model.BlobAuxData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(backend.TypeBlobAux, auxMode(localOnly), false, []model.Hash20{node})
	return lookup(s, node, auxMode(localOnly), s.localBlobAux, s.remoteBlobAux)
}

// GetBlobAuxDataBatch resolves a batch of blob aux requests
func (s *Store) GetBlobAuxDataBatch(requests []backend.Request, localOnly bool, cb func(int, *model.BlobAuxData, error)) {
	s.mu.Lock()
	nodes := nodesOf(requests)
	s.record(backend.TypeBlobAux, auxMode(localOnly), true, nodes)
	results := make([]*model.BlobAuxData, len(requests))
	errs := make([]error, len(requests))
	for i, r := range requests {
		results[i], errs[i] = lookup(s, r.Node, auxMode(localOnly), s.localBlobAux, s.remoteBlobAux)
	}
	s.mu.Unlock()
	for i := range requests {
		cb(i, results[i], errs[i])
	}
}

// GetTreeAuxData fetches tree summary data
func (s *Store) GetTreeAuxData(node model.Hash20, localOnly bool) (*model.TreeAuxData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(backend.TypeTreeAux, auxMode(localOnly), false, []model.Hash20{node})
	return lookup(s, node, auxMode(localOnly), s.localTreeAux, s.remoteTreeAux)
}

// GetTreeAuxDataBatch resolves a batch of tree aux requests
func (s *Store) GetTreeAuxDataBatch(requests []backend.Request, localOnly bool, cb func(int, *model.TreeAuxData, error)) {
	s.mu.Lock()
	nodes := nodesOf(requests)
	s.record(backend.TypeTreeAux, auxMode(localOnly), true, nodes)
	results := make([]*model.TreeAuxData, len(requests))
	errs := make([]error, len(requests))
	for i, r := range requests {
		results[i], errs[i] = lookup(s, r.Node, auxMode(localOnly), s.localTreeAux, s.remoteTreeAux)
	}
	s.mu.Unlock()
	for i := range requests {
		cb(i, results[i], errs[i])
	}
}

// GetManifestNode resolves a commit to its root tree node
func (s *Store) GetManifestNode(commit model.Hash20) (model.Hash20, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.manifests[commit]
	return node, ok
}

// GetGlobFiles lists files matching globs under a revision
func (s *Store) GetGlobFiles(root model.RootID, globs []string, prefixes []string) (backend.GlobFilesResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var files []string
	for _, g := range globs {
		matched := s.globs[root.String()+"|"+g]
		if len(prefixes) == 0 {
			files = append(files, matched...)
			continue
		}
		for _, f := range matched {
			for _, p := range prefixes {
				if p == "" || f == p || hasPathPrefix(f, p) {
					files = append(files, f)
					break
				}
			}
		}
	}
	return backend.GlobFilesResult{Files: files}, nil
}

func hasPathPrefix(file, prefix string) bool {
	rel := path.Clean(file)
	return len(rel) > len(prefix) && rel[:len(prefix)] == prefix && rel[len(prefix)] == '/'
}

// Flush publishes staged objects to the local maps
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for node, tree := range s.stagedTrees {
		s.localTrees[node] = tree
	}
	for node, blob := range s.stagedBlobs {
		s.localBlobs[node] = blob
	}
	s.stagedTrees = make(map[model.Hash20]*model.Tree)
	s.stagedBlobs = make(map[model.Hash20]*model.Blob)
	return nil
}

// RepoName names the repository served by this adapter
func (s *Store) RepoName() string {
	return s.repoName
}

// DogfoodingHost tells whether this host is in the dogfooding population
func (s *Store) DogfoodingHost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dogfooding
}

func nodesOf(requests []backend.Request) []model.Hash20 {
	nodes := make([]model.Hash20, len(requests))
	for i, r := range requests {
		nodes[i] = r.Node
	}
	return nodes
}
