package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arkonballoon/VoiceToDocWeb/internal/audio"
	"github.com/arkonballoon/VoiceToDocWeb/internal/metrics"
	"github.com/arkonballoon/VoiceToDocWeb/internal/scheduler"
)

var (
	// ErrEmptyAudio is returned for pushes without any audio bytes.
	ErrEmptyAudio = errors.New("empty audio data")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
)

// Segmenter cuts decoded recordings into speech chunks
type Segmenter interface {
	SegmentPCM(pcm *audio.PCM) ([]audio.AudioChunk, error)
	IsSilencePCM(pcm *audio.PCM) bool
}

// Submitter accepts chunks for transcription
type Submitter interface {
	Submit(ctx context.Context, req scheduler.SubmitRequest, cb scheduler.Callback) (string, error)
}

// Config contains session manager configuration
type Config struct {
	SessionTimeout  time.Duration
	ContextMaxChars int           // Runes of the running transcript passed as context
	CleanupInterval time.Duration // Defaults to 30s
}

// Session is the transcription state of one origin
type Session struct {
	ID           string
	StartTime    time.Time
	LastActivity time.Time

	nextSeq int
	texts   map[int]string // Completed texts by chunk sequence
	pending map[string]int // Task id to chunk sequence

	// Statistics
	pushes           uint64
	chunksGenerated  uint64
	chunksSent       uint64
	chunksSuccessful uint64
	chunksFailed     uint64

	mu sync.RWMutex
}

// SessionInfo represents session information for monitoring and APIs
type SessionInfo struct {
	ID               string        `json:"id"`
	StartTime        time.Time     `json:"start_time"`
	LastActivity     time.Time     `json:"last_activity"`
	Duration         time.Duration `json:"duration"`
	Pushes           uint64        `json:"pushes"`
	ChunksGenerated  uint64        `json:"chunks_generated"`
	ChunksSent       uint64        `json:"chunks_sent"`
	ChunksSuccessful uint64        `json:"chunks_successful"`
	ChunksFailed     uint64        `json:"chunks_failed"`
	PendingTasks     int           `json:"pending_tasks"`
	Transcript       string        `json:"transcript"`
}

// PushResult describes what happened to one pushed recording
type PushResult struct {
	SessionID string   `json:"session_id"`
	Chunks    int      `json:"chunks"`
	TaskIDs   []string `json:"task_ids"`
	NoSpeech  bool     `json:"no_speech"`
}

// Manager manages all transcription sessions
type Manager struct {
	sessions  map[string]*Session
	mu        sync.RWMutex
	logger    *slog.Logger
	config    Config
	segmenter Segmenter
	submitter Submitter
	metrics   *metrics.Metrics

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a new session manager and starts its cleanup routine
func NewManager(logger *slog.Logger, config Config, segmenter Segmenter, submitter Submitter, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 30 * time.Second
	}
	if config.SessionTimeout <= 0 {
		config.SessionTimeout = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		sessions:  make(map[string]*Session),
		logger:    logger,
		config:    config,
		segmenter: segmenter,
		submitter: submitter,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		cleanup:   make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr
}

// GetOrCreateSession returns the session with the given id, creating it if
// needed. An empty id creates a session with a fresh id.
func (m *Manager) GetOrCreateSession(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.sessions[id]; exists {
		return existing
	}

	now := time.Now()
	session := &Session{
		ID:           id,
		StartTime:    now,
		LastActivity: now,
		texts:        make(map[int]string),
		pending:      make(map[string]int),
	}
	m.sessions[id] = session

	m.metrics.RecordSessionCreated()
	m.metrics.SetActiveSessions(len(m.sessions))

	m.logger.Info("Created new session", slog.String("session_id", id))

	return session
}

// GetSession retrieves an existing session
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// GetActiveSessionCount returns the number of currently active sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all active sessions sorted by start time
func (m *Manager) GetAllSessions() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.GetSessionInfo())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartTime.Before(infos[j].StartTime)
	})
	return infos
}

// RemoveSession removes a session. Tasks already submitted still complete.
func (m *Manager) RemoveSession(id string) bool {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
		m.metrics.SetActiveSessions(len(m.sessions))
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	info := session.GetSessionInfo()
	m.metrics.RecordSessionDestroyed(info.Duration.Seconds())

	m.logger.Info("Session removed",
		slog.String("session_id", id),
		slog.Duration("duration", info.Duration),
		slog.Uint64("chunks_generated", info.ChunksGenerated),
		slog.Uint64("chunks_successful", info.ChunksSuccessful),
		slog.Uint64("chunks_failed", info.ChunksFailed),
	)

	return true
}

// Segment validates and cuts one pushed recording for the session. A silent
// recording yields no chunks and no error. The session is only created once
// the recording decoded.
func (m *Manager) Segment(sessionID string, wav []byte) ([]audio.AudioChunk, error) {
	if len(wav) == 0 {
		return nil, ErrEmptyAudio
	}

	pcm, err := audio.DecodeWAV(wav)
	if err != nil {
		m.metrics.RecordSegmentationError()
		return nil, fmt.Errorf("%w: %w", audio.ErrSegmentation, err)
	}

	session := m.GetOrCreateSession(sessionID)
	session.touch()

	if m.segmenter.IsSilencePCM(pcm) {
		m.logger.Debug("Recording is silent", slog.String("session_id", session.ID))
		return nil, nil
	}

	chunks, err := m.segmenter.SegmentPCM(pcm)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	session.pushes++
	session.chunksGenerated += uint64(len(chunks))
	session.mu.Unlock()

	m.logger.Debug("Recording segmented",
		slog.String("session_id", session.ID),
		slog.Int("chunks", len(chunks)),
	)

	return chunks, nil
}

// SubmitChunks submits every chunk with the session transcript as context.
// cb receives all updates of all submitted tasks. On error the ids of the
// tasks submitted so far are returned together with the error.
func (m *Manager) SubmitChunks(ctx context.Context, sessionID string, chunks []audio.AudioChunk, cb scheduler.Callback) ([]string, error) {
	session, ok := m.GetSession(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	contextText := session.ContextText(m.config.ContextMaxChars)
	taskIDs := make([]string, 0, len(chunks))

	for _, chunk := range chunks {
		seq := session.reserveSeq()
		callback := session.track(seq, cb)

		taskID, err := m.submitter.Submit(ctx, scheduler.SubmitRequest{
			AudioData:       chunk.Data,
			ContextText:     contextText,
			OriginID:        session.ID,
			TotalChunksHint: len(chunks),
		}, callback)
		if err != nil {
			return taskIDs, fmt.Errorf("failed to submit chunk %d: %w", chunk.Index, err)
		}
		taskIDs = append(taskIDs, taskID)
	}

	session.touch()
	return taskIDs, nil
}

// PushAudio segments a recording and submits all of its chunks.
func (m *Manager) PushAudio(ctx context.Context, sessionID string, wav []byte, cb scheduler.Callback) (*PushResult, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	chunks, err := m.Segment(sessionID, wav)
	if err != nil {
		return nil, err
	}

	result := &PushResult{SessionID: sessionID, Chunks: len(chunks)}
	if len(chunks) == 0 {
		result.NoSpeech = true
		return result, nil
	}

	taskIDs, err := m.SubmitChunks(ctx, sessionID, chunks, cb)
	result.TaskIDs = taskIDs
	return result, err
}

// Stop gracefully stops the session manager
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.cancel()
	<-m.cleanup

	m.logger.Info("Session manager stopped",
		slog.Int("remaining_sessions", m.GetActiveSessionCount()),
	)
}

// startCleanupRoutine runs in a separate goroutine to clean up expired sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Debug("Session cleanup routine started",
		slog.Duration("timeout", m.config.SessionTimeout),
		slog.Duration("check_interval", m.config.CleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Debug("Session cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions removes sessions that have been inactive for too long.
// Sessions with tasks still in flight are kept.
func (m *Manager) cleanupExpiredSessions() {
	now := time.Now()
	var expired []string

	m.mu.RLock()
	for id, session := range m.sessions {
		session.mu.RLock()
		idle := now.Sub(session.LastActivity) > m.config.SessionTimeout && len(session.pending) == 0
		session.mu.RUnlock()

		if idle {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) > 0 {
		m.logger.Info("Cleaning up expired sessions",
			slog.Int("expired_count", len(expired)),
		)

		for _, id := range expired {
			m.RemoveSession(id)
		}
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) reserveSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.nextSeq
	s.nextSeq++
	s.chunksSent++
	return seq
}

// track wraps cb so that the session records the outcome of the chunk with
// sequence number seq before the update is forwarded.
func (s *Session) track(seq int, cb scheduler.Callback) scheduler.Callback {
	return func(u scheduler.Update) {
		s.mu.Lock()
		switch update := u.(type) {
		case scheduler.QueuedUpdate:
			s.pending[update.TaskID] = seq
		case scheduler.ResultUpdate:
			delete(s.pending, update.TaskID)
			s.texts[seq] = update.Result.Text
			s.chunksSuccessful++
		case scheduler.ErrorUpdate:
			delete(s.pending, update.TaskID)
			s.chunksFailed++
		}
		s.LastActivity = time.Now()
		s.mu.Unlock()

		if cb != nil {
			cb(u)
		}
	}
}

// Transcript returns the completed texts joined in chunk order.
func (s *Session) Transcript() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transcriptLocked()
}

func (s *Session) transcriptLocked() string {
	seqs := make([]int, 0, len(s.texts))
	for seq := range s.texts {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)

	parts := make([]string, 0, len(seqs))
	for _, seq := range seqs {
		if text := strings.TrimSpace(s.texts[seq]); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// ContextText returns the last maxChars runes of the transcript. A
// non-positive maxChars disables the context.
func (s *Session) ContextText(maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	runes := []rune(s.Transcript())
	if len(runes) > maxChars {
		runes = runes[len(runes)-maxChars:]
	}
	return string(runes)
}

// GetSessionInfo returns session information including chunk statistics
func (s *Session) GetSessionInfo() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SessionInfo{
		ID:               s.ID,
		StartTime:        s.StartTime,
		LastActivity:     s.LastActivity,
		Duration:         time.Since(s.StartTime),
		Pushes:           s.pushes,
		ChunksGenerated:  s.chunksGenerated,
		ChunksSent:       s.chunksSent,
		ChunksSuccessful: s.chunksSuccessful,
		ChunksFailed:     s.chunksFailed,
		PendingTasks:     len(s.pending),
		Transcript:       s.transcriptLocked(),
	}
}
