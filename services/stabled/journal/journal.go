// Package journal persists protocol events into a hash-chained audit log and
// fans them out to live subscribers.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"hedgepool/core/events"
	"hedgepool/core/types"
	"hedgepool/observability"
)

// ErrChainBroken reports a record whose digest does not match its content.
var ErrChainBroken = errors.New("journal: hash chain broken")

const (
	defaultQueueSize = 1024
	maxListLimit     = 500
)

// Record is one persisted protocol event.
type Record struct {
	Seq        uint64            `gorm:"primaryKey;autoIncrement:false" json:"seq"`
	Type       string            `gorm:"index;not null" json:"type"`
	Asset      string            `gorm:"index" json:"asset,omitempty"`
	Payload    string            `gorm:"type:text;not null" json:"-"`
	Attributes map[string]string `gorm:"-" json:"attributes"`
	Digest     string            `gorm:"size:64;uniqueIndex" json:"digest"`
	PrevDigest string            `gorm:"size:64" json:"prev_digest"`
	CreatedAt  time.Time         `json:"created_at"`
}

// TableName pins the table name.
func (Record) TableName() string { return "journal_records" }

// AfterFind decodes the stored attribute payload.
func (r *Record) AfterFind(*gorm.DB) error {
	r.Attributes = map[string]string{}
	if r.Payload == "" {
		return nil
	}
	return json.Unmarshal([]byte(r.Payload), &r.Attributes)
}

// Digest chains a record onto prev. Attributes are hashed in key order.
func Digest(prev string, seq uint64, eventType string, attrs map[string]string) string {
	h := blake3.New(32, nil)
	h.Write([]byte(prev))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	h.Write(buf[:])
	h.Write([]byte(eventType))
	flat := &types.Event{Type: eventType, Attributes: attrs}
	for _, key := range flat.Keys() {
		h.Write([]byte{0})
		h.Write([]byte(key))
		h.Write([]byte{'='})
		h.Write([]byte(attrs[key]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Open connects to the journal database. driver is "sqlite" or "postgres".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	return gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithQueueSize bounds the number of events waiting to be persisted.
func WithQueueSize(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.queueSize = n
		}
	}
}

// WithNowFunc overrides the record timestamp clock.
func WithNowFunc(now func() time.Time) Option {
	return func(j *Journal) {
		if now != nil {
			j.nowFn = now
		}
	}
}

// Journal is an events.Emitter that appends every event to the database.
// Emit never blocks; events that overflow the queue are dropped and counted.
type Journal struct {
	db        *gorm.DB
	logger    *slog.Logger
	nowFn     func() time.Time
	queueSize int
	queue     chan *types.Event
	hub       *Hub

	mu   sync.Mutex
	seq  uint64
	head string

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

var _ events.Emitter = (*Journal)(nil)

// New migrates the schema and resumes the chain from the last stored record.
func New(ctx context.Context, db *gorm.DB, opts ...Option) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database required")
	}
	j := &Journal{
		db:        db,
		logger:    slog.Default(),
		nowFn:     time.Now,
		queueSize: defaultQueueSize,
		hub:       NewHub(),
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(j)
		}
	}
	j.queue = make(chan *types.Event, j.queueSize)
	if err := db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	var last Record
	err := db.WithContext(ctx).Order("seq desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("journal: load head: %w", err)
	}
	j.seq, j.head = last.Seq, last.Digest
	return j, nil
}

// Emit implements events.Emitter.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	flat := events.Flatten(evt)
	select {
	case <-j.closed:
		return
	default:
	}
	select {
	case j.queue <- flat:
	default:
		observability.ModuleMetrics().RecordThrottle("journal", "queue_full")
		j.logger.Warn("journal queue full; event dropped", "event", flat.Type)
	}
}

// Run persists queued events until ctx is cancelled or Close is called, then
// drains what is left.
func (j *Journal) Run(ctx context.Context) error {
	defer close(j.done)
	for {
		select {
		case flat := <-j.queue:
			j.persist(ctx, flat)
		case <-ctx.Done():
			j.drain()
			return nil
		case <-j.closed:
			j.drain()
			return nil
		}
	}
}

func (j *Journal) drain() {
	for {
		select {
		case flat := <-j.queue:
			j.persist(context.Background(), flat)
		default:
			j.hub.Close()
			return
		}
	}
}

func (j *Journal) persist(ctx context.Context, flat *types.Event) {
	if _, err := j.Append(ctx, flat); err != nil {
		j.logger.Error("journal append failed", "event", flat.Type, "error", err)
	}
}

// Close stops accepting events and waits for Run to drain the queue. It is a
// no-op when Run was never started.
func (j *Journal) Close(wait time.Duration) {
	if j == nil {
		return
	}
	j.closeOnce.Do(func() { close(j.closed) })
	select {
	case <-j.done:
	case <-time.After(wait):
	}
}

// Append stores one event synchronously and publishes it to subscribers.
func (j *Journal) Append(ctx context.Context, flat *types.Event) (*Record, error) {
	if flat == nil {
		return nil, fmt.Errorf("journal: nil event")
	}
	attrs := flat.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	seq := j.seq + 1
	rec := Record{
		Seq:        seq,
		Type:       flat.Type,
		Asset:      attrs["asset"],
		Payload:    string(payload),
		Attributes: attrs,
		PrevDigest: j.head,
		Digest:     Digest(j.head, seq, flat.Type, attrs),
		CreatedAt:  j.nowFn().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("journal: insert #%d: %w", seq, err)
	}
	j.seq, j.head = seq, rec.Digest
	j.hub.Publish(rec)
	return &rec, nil
}

// Head returns the last sequence number and digest.
func (j *Journal) Head() (uint64, string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq, j.head
}

// Filter narrows List.
type Filter struct {
	Type     string
	Asset    string
	AfterSeq uint64
	Limit    int
}

// List returns records in sequence order.
func (j *Journal) List(ctx context.Context, f Filter) ([]Record, error) {
	limit := f.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	q := j.db.WithContext(ctx).Where("seq > ?", f.AfterSeq)
	if t := strings.TrimSpace(f.Type); t != "" {
		q = q.Where("type = ?", t)
	}
	if a := strings.ToUpper(strings.TrimSpace(f.Asset)); a != "" {
		q = q.Where("asset = ?", a)
	}
	var out []Record
	if err := q.Order("seq asc").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Verify walks the whole chain and returns the number of records checked.
func (j *Journal) Verify(ctx context.Context) (uint64, error) {
	var (
		prev    string
		checked uint64
		batch   []Record
	)
	err := j.db.WithContext(ctx).FindInBatches(&batch, 200, func(tx *gorm.DB, _ int) error {
		for _, rec := range batch {
			if rec.PrevDigest != prev || Digest(prev, rec.Seq, rec.Type, rec.Attributes) != rec.Digest {
				return fmt.Errorf("%w at #%d", ErrChainBroken, rec.Seq)
			}
			prev = rec.Digest
			checked++
		}
		return nil
	}).Error
	return checked, err
}

// Subscribe streams records appended after the call.
func (j *Journal) Subscribe() (<-chan Record, func()) {
	return j.hub.Subscribe()
}
