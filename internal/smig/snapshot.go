package smig

import (
	"fmt"
	"sync"
	"time"
)

// AnalysisState tracks a file's progress through background enrichment.
type AnalysisState string

const (
	StateUnknown            AnalysisState = "unknown"
	StateAnalysisPending    AnalysisState = "pending"
	StateAnalysisInProgress AnalysisState = "in_progress"
	StateComplete           AnalysisState = "complete"
	StateTransientError     AnalysisState = "transient_error"
	StateFatalError         AnalysisState = "fatal_error"
)

// validTransitions defines the analysis state machine. TransientError files
// are requeued for another pass; FatalError is terminal for the run.
var validTransitions = map[[2]AnalysisState]bool{
	{StateUnknown, StateAnalysisPending}: true,
	{StateUnknown, StateComplete}:        true, // freshness-window skip

	{StateAnalysisPending, StateAnalysisInProgress}: true,

	{StateAnalysisInProgress, StateComplete}:       true,
	{StateAnalysisInProgress, StateTransientError}: true,
	{StateAnalysisInProgress, StateFatalError}:     true,

	{StateTransientError, StateAnalysisInProgress}: true,
}

// ValidateTransition checks whether from → to is a legal analysis
// transition.
func ValidateTransition(from, to AnalysisState) error {
	if !validTransitions[[2]AnalysisState{from, to}] {
		return fmt.Errorf("invalid analysis transition from %s to %s", from, to)
	}
	return nil
}

// AnalyzedFile is a discovered document-library file together with its
// enrichment state and stats. Mutated only through its owning SiteSnapshot.
type AnalyzedFile struct {
	FileDescriptor

	State AnalysisState

	// AccessCount is nil until analytics have been fetched.
	AccessCount  *int64
	VersionCount int64
	VersionsSize int64
}

// ListDescriptor is one list in a snapshot, owning its files.
type ListDescriptor struct {
	Ref   ListRef
	Kind  ListKind
	Files []*AnalyzedFile
}

// SiteSnapshot is the in-memory model of one site's content built during an
// analysis run. The snapshot exclusively owns its list/file graph.
//
// Derived views (all files, doc libs, files by state) are cached and
// invalidated whenever the underlying collection mutates, so state checks
// avoid O(n) scans. A single coarse lock guards both mutation and the
// caches; mutation is infrequent relative to reads.
type SiteSnapshot struct {
	SiteURL    string
	StartedAt  time.Time
	FinishedAt time.Time

	mu    sync.Mutex
	lists []*ListDescriptor

	cacheValid bool
	allFiles   []*AnalyzedFile
	docLibs    []*ListDescriptor
	byState    map[AnalysisState][]*AnalyzedFile
}

// NewSiteSnapshot starts an empty snapshot for a site.
func NewSiteSnapshot(siteURL string, startedAt time.Time) *SiteSnapshot {
	return &SiteSnapshot{SiteURL: siteURL, StartedAt: startedAt}
}

// AddFile adds a file under its owning list (created on first use) in the
// given initial state and returns the tracked AnalyzedFile.
func (s *SiteSnapshot) AddFile(fd *FileDescriptor, kind ListKind, state AnalysisState) *AnalyzedFile {
	s.mu.Lock()
	defer s.mu.Unlock()

	af := &AnalyzedFile{FileDescriptor: *fd, State: state}
	list := s.findOrAddList(fd, kind)
	list.Files = append(list.Files, af)
	s.cacheValid = false
	return af
}

func (s *SiteSnapshot) findOrAddList(fd *FileDescriptor, kind ListKind) *ListDescriptor {
	var ref ListRef
	if fd.List != nil {
		ref = *fd.List
	}
	for _, l := range s.lists {
		if l.Ref.Equal(ref) {
			return l
		}
	}
	l := &ListDescriptor{Ref: ref, Kind: kind}
	s.lists = append(s.lists, l)
	return l
}

// Transition moves a file to a new state, enforcing the state machine and
// invalidating the derived views.
func (s *SiteSnapshot) Transition(af *AnalyzedFile, to AnalysisState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ValidateTransition(af.State, to); err != nil {
		return err
	}
	af.State = to
	s.cacheValid = false
	return nil
}

// SetStats records enrichment results on a file.
func (s *SiteSnapshot) SetStats(af *AnalyzedFile, stats FileStats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := stats.AccessCount
	af.AccessCount = &count
	af.VersionCount = stats.VersionCount
	af.VersionsSize = stats.VersionsSize
}

// InvalidateCaches clears the derived views. The records themselves are
// never deleted.
func (s *SiteSnapshot) InvalidateCaches() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheValid = false
}

// rebuildCachesLocked repopulates the derived views. Callers hold s.mu.
func (s *SiteSnapshot) rebuildCachesLocked() {
	if s.cacheValid {
		return
	}
	s.allFiles = s.allFiles[:0]
	s.docLibs = s.docLibs[:0]
	s.byState = make(map[AnalysisState][]*AnalyzedFile)

	for _, l := range s.lists {
		if l.Kind == ListKindDocumentLibrary {
			s.docLibs = append(s.docLibs, l)
		}
		for _, f := range l.Files {
			s.allFiles = append(s.allFiles, f)
			s.byState[f.State] = append(s.byState[f.State], f)
		}
	}
	s.cacheValid = true
}

// AllFiles returns every file in the snapshot.
func (s *SiteSnapshot) AllFiles() []*AnalyzedFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildCachesLocked()
	return append([]*AnalyzedFile(nil), s.allFiles...)
}

// DocumentLibraries returns the snapshot's document-library lists.
func (s *SiteSnapshot) DocumentLibraries() []*ListDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildCachesLocked()
	return append([]*ListDescriptor(nil), s.docLibs...)
}

// FilesInState returns the files currently in any of the given states.
func (s *SiteSnapshot) FilesInState(states ...AnalysisState) []*AnalyzedFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildCachesLocked()

	var out []*AnalyzedFile
	for _, st := range states {
		out = append(out, s.byState[st]...)
	}
	return out
}

// CompletedFiles returns the files whose analysis finished successfully.
func (s *SiteSnapshot) CompletedFiles() []*AnalyzedFile {
	return s.FilesInState(StateComplete)
}

// ErroredFiles returns the files whose analysis failed fatally.
func (s *SiteSnapshot) ErroredFiles() []*AnalyzedFile {
	return s.FilesInState(StateFatalError)
}

// AnalysisFinished reports whether no file remains pending, in progress, or
// awaiting a transient retry.
func (s *SiteSnapshot) AnalysisFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildCachesLocked()

	return len(s.byState[StateAnalysisPending]) == 0 &&
		len(s.byState[StateAnalysisInProgress]) == 0 &&
		len(s.byState[StateTransientError]) == 0
}

// Finish stamps the snapshot's completion time.
func (s *SiteSnapshot) Finish(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FinishedAt = at
}
