package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/remoteprof/internal/duckdb"
	"github.com/coral-mesh/remoteprof/internal/story"
)

// DuckDB is a Store backed by a DuckDB database. Every story event is one
// transaction.
type DuckDB struct {
	db     *sql.DB
	logger zerolog.Logger
	owned  bool

	recordings  *duckdb.Table[recordingRow]
	groups      *duckdb.Table[groupRow]
	threads     *duckdb.Table[threadRow]
	performance *duckdb.Table[performanceRow]
	rn          *duckdb.Table[rnPerformanceRow]
	network     *duckdb.Table[networkRow]
	logs        *duckdb.Table[logRow]
	tags        *duckdb.Table[tagRow]
}

var _ Store = (*DuckDB)(nil)

// OpenDuckDB opens (or creates) the database file at path. An empty path
// opens an in-memory database.
func OpenDuckDB(path string, opts duckdb.Options, logger zerolog.Logger) (*DuckDB, error) {
	db, err := duckdb.OpenDB(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %q: %w", path, err)
	}
	s, err := NewDuckDB(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewDuckDB wraps an open database and creates the schema if needed. The
// caller keeps ownership of db.
func NewDuckDB(db *sql.DB, logger zerolog.Logger) (*DuckDB, error) {
	s := &DuckDB{
		db:          db,
		logger:      logger.With().Str("component", "recording_store").Logger(),
		recordings:  duckdb.NewTable[recordingRow](db, "recordings"),
		groups:      duckdb.NewTable[groupRow](db, "sample_groups"),
		threads:     duckdb.NewTable[threadRow](db, "thread_infos"),
		performance: duckdb.NewTable[performanceRow](db, "performance_samples"),
		rn:          duckdb.NewTable[rnPerformanceRow](db, "rn_performance_samples"),
		network:     duckdb.NewTable[networkRow](db, "network_samples"),
		logs:        duckdb.NewTable[logRow](db, "log_samples"),
		tags:        duckdb.NewTable[tagRow](db, "tags"),
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the recording tables. Only primary keys are indexed:
// DuckDB rejects ON CONFLICT updates of columns covered by other indexes.
func (s *DuckDB) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS recordings (
			id             TEXT PRIMARY KEY,
			name           TEXT      NOT NULL,
			start_time     TIMESTAMP NOT NULL,
			end_time       TIMESTAMP,
			stopped        BOOLEAN   NOT NULL DEFAULT false,
			app_name       TEXT      NOT NULL,
			device_name    TEXT      NOT NULL,
			device_os      TEXT      NOT NULL,
			device_os_type INTEGER   NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sample_groups (
			recording_id    TEXT      NOT NULL,
			id              TEXT      NOT NULL,
			parent_group_id TEXT      NOT NULL,  -- empty for root groups
			name            TEXT      NOT NULL,
			start_time      TIMESTAMP NOT NULL,
			end_time        TIMESTAMP,
			is_root_group   BOOLEAN   NOT NULL,
			thread_number   BIGINT    NOT NULL,
			depth           BIGINT    NOT NULL,
			PRIMARY KEY (recording_id, id)
		);

		CREATE TABLE IF NOT EXISTS thread_infos (
			recording_id TEXT   NOT NULL,
			number       BIGINT NOT NULL,
			name         TEXT   NOT NULL,
			PRIMARY KEY (recording_id, number)
		);

		CREATE TABLE IF NOT EXISTS performance_samples (
			recording_id           TEXT      NOT NULL,
			id                     TEXT      NOT NULL,
			parent_group_id        TEXT      NOT NULL,
			timestamp              TIMESTAMP NOT NULL,
			thread_number          BIGINT    NOT NULL,
			cpu_usage              DOUBLE    NOT NULL,
			memory_usage           BIGINT    NOT NULL,
			fps                    DOUBLE    NOT NULL,
			disk_reads             BIGINT    NOT NULL,
			disk_writes            BIGINT    NOT NULL,
			advanced               BOOLEAN   NOT NULL,
			thread_count           BIGINT    NOT NULL,
			heaviest_thread_number BIGINT,
			heaviest_stack_trace   TEXT      NOT NULL,  -- JSON array of frames
			PRIMARY KEY (recording_id, id)
		);

		CREATE TABLE IF NOT EXISTS rn_performance_samples (
			recording_id                  TEXT      NOT NULL,
			id                            TEXT      NOT NULL,
			parent_group_id               TEXT      NOT NULL,
			timestamp                     TIMESTAMP NOT NULL,
			cpu_usage                     DOUBLE    NOT NULL,
			bridge_js_to_native_calls     BIGINT    NOT NULL,
			bridge_native_to_js_calls     BIGINT    NOT NULL,
			bridge_js_to_native_data_size BIGINT    NOT NULL,
			bridge_native_to_js_data_size BIGINT    NOT NULL,
			PRIMARY KEY (recording_id, id)
		);

		CREATE TABLE IF NOT EXISTS network_samples (
			recording_id          TEXT      NOT NULL,
			id                    TEXT      NOT NULL,
			parent_group_id       TEXT      NOT NULL,
			timestamp             TIMESTAMP NOT NULL,
			url                   TEXT      NOT NULL,
			method                TEXT      NOT NULL,
			request_headers       TEXT      NOT NULL,  -- JSON object
			request_data_length   BIGINT    NOT NULL,
			state                 TEXT      NOT NULL,
			response_timestamp    TIMESTAMP,
			response_status_code  BIGINT    NOT NULL,
			response_mime_type    TEXT      NOT NULL,
			response_headers      TEXT      NOT NULL,  -- JSON object
			response_data_length  BIGINT    NOT NULL,
			response_error        TEXT      NOT NULL,
			PRIMARY KEY (recording_id, id)
		);

		CREATE TABLE IF NOT EXISTS log_samples (
			recording_id    TEXT      NOT NULL,
			id              TEXT      NOT NULL,
			parent_group_id TEXT      NOT NULL,
			timestamp       TIMESTAMP NOT NULL,
			level           TEXT      NOT NULL,
			subsystem       TEXT      NOT NULL,
			category        TEXT      NOT NULL,
			line            TEXT      NOT NULL,
			PRIMARY KEY (recording_id, id)
		);

		CREATE TABLE IF NOT EXISTS tags (
			recording_id    TEXT      NOT NULL,
			id              TEXT      NOT NULL,
			parent_group_id TEXT      NOT NULL,
			timestamp       TIMESTAMP NOT NULL,
			name            TEXT      NOT NULL,
			PRIMARY KEY (recording_id, id)
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Recording store schema initialized")
	return nil
}

func (s *DuckDB) Begin(ctx context.Context) (story.Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &duckBatch{store: s, tx: tx}, nil
}

type duckBatch struct {
	store *DuckDB
	tx    *sql.Tx
}

func (b *duckBatch) CreateOrUpdate(ctx context.Context, entity any) error {
	s := b.store
	switch e := entity.(type) {
	case *story.Recording:
		return s.recordings.With(b.tx).Upsert(ctx, toRecordingRow(e))
	case *story.SampleGroup:
		return s.groups.With(b.tx).Upsert(ctx, toGroupRow(e))
	case *story.ThreadInfo:
		return s.threads.With(b.tx).Upsert(ctx, &threadRow{RecordingID: e.RecordingID, Number: e.Number, Name: e.Name})
	case *story.PerformanceSample:
		row, err := toPerformanceRow(e)
		if err != nil {
			return err
		}
		return s.performance.With(b.tx).Upsert(ctx, row)
	case *story.RNPerformanceSample:
		return s.rn.With(b.tx).Upsert(ctx, toRNPerformanceRow(e))
	case *story.NetworkSample:
		row, err := toNetworkRow(e)
		if err != nil {
			return err
		}
		return s.network.With(b.tx).Upsert(ctx, row)
	case *story.LogSample:
		return s.logs.With(b.tx).Upsert(ctx, toLogRow(e))
	case *story.Tag:
		return s.tags.With(b.tx).Upsert(ctx, &tagRow{
			RecordingID: e.RecordingID, ID: e.ID, ParentGroupID: e.ParentGroupID,
			Timestamp: e.Timestamp, Name: e.Name,
		})
	}
	return unsupported(entity)
}

func (b *duckBatch) Commit() error { return b.tx.Commit() }

func (b *duckBatch) Rollback() error {
	if err := b.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (s *DuckDB) Recordings(ctx context.Context) ([]story.Recording, error) {
	rows, err := s.recordings.Query(ctx, duckdb.NewQueryBuilder(s.recordings.Name()).
		Select(s.recordings.Columns()...).
		OrderBy("-start_time", "id"))
	if err != nil {
		return nil, err
	}
	out := make([]story.Recording, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entity())
	}
	return out, nil
}

// recordingQuery selects the rows of one recording in timeline order.
func recordingQuery[T any](tbl *duckdb.Table[T], recordingID, timeColumn string) *duckdb.Builder {
	return duckdb.NewQueryBuilder(tbl.Name()).
		Select(tbl.Columns()...).
		Where("recording_id = ?", recordingID).
		OrderBy(timeColumn, "id")
}

func (s *DuckDB) Load(ctx context.Context, recordingID string) (*Timeline, error) {
	rec, err := s.recordings.Get(ctx, recordingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, recordingID)
	}
	if err != nil {
		return nil, fmt.Errorf("load recording: %w", err)
	}
	t := &Timeline{Recording: rec.entity()}

	groups, err := s.groups.Query(ctx, recordingQuery(s.groups, recordingID, "start_time"))
	if err != nil {
		return nil, err
	}
	for _, r := range groups {
		t.Groups = append(t.Groups, r.entity())
	}

	threads, err := s.threads.Query(ctx, duckdb.NewQueryBuilder(s.threads.Name()).
		Select(s.threads.Columns()...).
		Where("recording_id = ?", recordingID).
		OrderBy("number"))
	if err != nil {
		return nil, err
	}
	for _, r := range threads {
		t.Threads = append(t.Threads, story.ThreadInfo{RecordingID: r.RecordingID, Number: r.Number, Name: r.Name})
	}

	perf, err := s.performance.Query(ctx, recordingQuery(s.performance, recordingID, "timestamp"))
	if err != nil {
		return nil, err
	}
	for _, r := range perf {
		e, err := r.entity()
		if err != nil {
			return nil, err
		}
		t.Performance = append(t.Performance, e)
	}

	rn, err := s.rn.Query(ctx, recordingQuery(s.rn, recordingID, "timestamp"))
	if err != nil {
		return nil, err
	}
	for _, r := range rn {
		t.RNPerformance = append(t.RNPerformance, r.entity())
	}

	network, err := s.network.Query(ctx, recordingQuery(s.network, recordingID, "timestamp"))
	if err != nil {
		return nil, err
	}
	for _, r := range network {
		e, err := r.entity()
		if err != nil {
			return nil, err
		}
		t.Network = append(t.Network, e)
	}

	logs, err := s.logs.Query(ctx, recordingQuery(s.logs, recordingID, "timestamp"))
	if err != nil {
		return nil, err
	}
	for _, r := range logs {
		t.Logs = append(t.Logs, r.entity())
	}

	tags, err := s.tags.Query(ctx, recordingQuery(s.tags, recordingID, "timestamp"))
	if err != nil {
		return nil, err
	}
	for _, r := range tags {
		t.Tags = append(t.Tags, story.Tag{
			ID: r.ID, RecordingID: r.RecordingID, ParentGroupID: r.ParentGroupID,
			Timestamp: r.Timestamp, Name: r.Name,
		})
	}

	return t, nil
}

// Close checkpoints and closes a database opened by OpenDuckDB. It is a
// no-op for databases passed to NewDuckDB.
func (s *DuckDB) Close() error {
	if !s.owned {
		return nil
	}
	if _, err := s.db.Exec("CHECKPOINT"); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to checkpoint database")
	}
	return s.db.Close()
}

type recordingRow struct {
	ID           string     `duckdb:"id,pk"`
	Name         string     `duckdb:"name"`
	StartTime    time.Time  `duckdb:"start_time,immutable"`
	EndTime      *time.Time `duckdb:"end_time"`
	Stopped      bool       `duckdb:"stopped"`
	AppName      string     `duckdb:"app_name"`
	DeviceName   string     `duckdb:"device_name"`
	DeviceOS     string     `duckdb:"device_os"`
	DeviceOSType int32      `duckdb:"device_os_type"`
}

func toRecordingRow(r *story.Recording) *recordingRow {
	return &recordingRow{
		ID: r.ID, Name: r.Name, StartTime: r.StartTime, EndTime: r.EndTime, Stopped: r.Stopped,
		AppName: r.AppName, DeviceName: r.DeviceName, DeviceOS: r.DeviceOS,
		DeviceOSType: int32(r.DeviceOSType),
	}
}

func (r *recordingRow) entity() story.Recording {
	return story.Recording{
		ID: r.ID, Name: r.Name, StartTime: r.StartTime, EndTime: r.EndTime, Stopped: r.Stopped,
		AppName: r.AppName, DeviceName: r.DeviceName, DeviceOS: r.DeviceOS,
		DeviceOSType: story.OSType(r.DeviceOSType),
	}
}

type groupRow struct {
	RecordingID   string     `duckdb:"recording_id,pk"`
	ID            string     `duckdb:"id,pk"`
	ParentGroupID string     `duckdb:"parent_group_id,immutable"`
	Name          string     `duckdb:"name,immutable"`
	StartTime     time.Time  `duckdb:"start_time,immutable"`
	EndTime       *time.Time `duckdb:"end_time"`
	IsRootGroup   bool       `duckdb:"is_root_group,immutable"`
	ThreadNumber  int64      `duckdb:"thread_number,immutable"`
	Depth         int64      `duckdb:"depth,immutable"`
}

func toGroupRow(g *story.SampleGroup) *groupRow {
	return &groupRow{
		RecordingID: g.RecordingID, ID: g.ID, ParentGroupID: g.ParentGroupID, Name: g.Name,
		StartTime: g.StartTime, EndTime: g.EndTime, IsRootGroup: g.IsRootGroup,
		ThreadNumber: g.ThreadNumber, Depth: g.Depth,
	}
}

func (r *groupRow) entity() story.SampleGroup {
	return story.SampleGroup{
		ID: r.ID, RecordingID: r.RecordingID, ParentGroupID: r.ParentGroupID, Name: r.Name,
		StartTime: r.StartTime, EndTime: r.EndTime, IsRootGroup: r.IsRootGroup,
		ThreadNumber: r.ThreadNumber, Depth: r.Depth,
	}
}

type threadRow struct {
	RecordingID string `duckdb:"recording_id,pk"`
	Number      int64  `duckdb:"number,pk"`
	Name        string `duckdb:"name"`
}

type performanceRow struct {
	RecordingID          string    `duckdb:"recording_id,pk"`
	ID                   string    `duckdb:"id,pk"`
	ParentGroupID        string    `duckdb:"parent_group_id"`
	Timestamp            time.Time `duckdb:"timestamp"`
	ThreadNumber         int64     `duckdb:"thread_number"`
	CPUUsage             float64   `duckdb:"cpu_usage"`
	MemoryUsage          int64     `duckdb:"memory_usage"`
	FPS                  float64   `duckdb:"fps"`
	DiskReads            int64     `duckdb:"disk_reads"`
	DiskWrites           int64     `duckdb:"disk_writes"`
	Advanced             bool      `duckdb:"advanced"`
	ThreadCount          int64     `duckdb:"thread_count"`
	HeaviestThreadNumber *int64    `duckdb:"heaviest_thread_number"`
	HeaviestStackTrace   string    `duckdb:"heaviest_stack_trace"`
}

func toPerformanceRow(s *story.PerformanceSample) (*performanceRow, error) {
	trace, err := marshalJSON(s.HeaviestStackTrace)
	if err != nil {
		return nil, fmt.Errorf("encode stack trace: %w", err)
	}
	return &performanceRow{
		RecordingID: s.RecordingID, ID: s.ID, ParentGroupID: s.ParentGroupID, Timestamp: s.Timestamp,
		ThreadNumber: s.ThreadNumber, CPUUsage: s.CPUUsage, MemoryUsage: s.MemoryUsage, FPS: s.FPS,
		DiskReads: s.DiskReads, DiskWrites: s.DiskWrites, Advanced: s.Advanced,
		ThreadCount: s.ThreadCount, HeaviestThreadNumber: s.HeaviestThreadNumber,
		HeaviestStackTrace: trace,
	}, nil
}

func (r *performanceRow) entity() (story.PerformanceSample, error) {
	s := story.PerformanceSample{
		ID: r.ID, RecordingID: r.RecordingID, ParentGroupID: r.ParentGroupID, Timestamp: r.Timestamp,
		ThreadNumber: r.ThreadNumber, CPUUsage: r.CPUUsage, MemoryUsage: r.MemoryUsage, FPS: r.FPS,
		DiskReads: r.DiskReads, DiskWrites: r.DiskWrites, Advanced: r.Advanced,
		ThreadCount: r.ThreadCount, HeaviestThreadNumber: r.HeaviestThreadNumber,
	}
	if err := unmarshalJSON(r.HeaviestStackTrace, &s.HeaviestStackTrace); err != nil {
		return s, fmt.Errorf("decode stack trace of %s: %w", r.ID, err)
	}
	return s, nil
}

type rnPerformanceRow struct {
	RecordingID               string    `duckdb:"recording_id,pk"`
	ID                        string    `duckdb:"id,pk"`
	ParentGroupID             string    `duckdb:"parent_group_id"`
	Timestamp                 time.Time `duckdb:"timestamp"`
	CPUUsage                  float64   `duckdb:"cpu_usage"`
	BridgeJSToNativeCallCount int64     `duckdb:"bridge_js_to_native_calls"`
	BridgeNativeToJSCallCount int64     `duckdb:"bridge_native_to_js_calls"`
	BridgeJSToNativeDataSize  int64     `duckdb:"bridge_js_to_native_data_size"`
	BridgeNativeToJSDataSize  int64     `duckdb:"bridge_native_to_js_data_size"`
}

func toRNPerformanceRow(s *story.RNPerformanceSample) *rnPerformanceRow {
	return &rnPerformanceRow{
		RecordingID: s.RecordingID, ID: s.ID, ParentGroupID: s.ParentGroupID, Timestamp: s.Timestamp,
		CPUUsage:                  s.CPUUsage,
		BridgeJSToNativeCallCount: s.BridgeJSToNativeCallCount,
		BridgeNativeToJSCallCount: s.BridgeNativeToJSCallCount,
		BridgeJSToNativeDataSize:  s.BridgeJSToNativeDataSize,
		BridgeNativeToJSDataSize:  s.BridgeNativeToJSDataSize,
	}
}

func (r *rnPerformanceRow) entity() story.RNPerformanceSample {
	return story.RNPerformanceSample{
		ID: r.ID, RecordingID: r.RecordingID, ParentGroupID: r.ParentGroupID, Timestamp: r.Timestamp,
		CPUUsage:                  r.CPUUsage,
		BridgeJSToNativeCallCount: r.BridgeJSToNativeCallCount,
		BridgeNativeToJSCallCount: r.BridgeNativeToJSCallCount,
		BridgeJSToNativeDataSize:  r.BridgeJSToNativeDataSize,
		BridgeNativeToJSDataSize:  r.BridgeNativeToJSDataSize,
	}
}

type networkRow struct {
	RecordingID        string     `duckdb:"recording_id,pk"`
	ID                 string     `duckdb:"id,pk"`
	ParentGroupID      string     `duckdb:"parent_group_id"`
	Timestamp          time.Time  `duckdb:"timestamp"`
	URL                string     `duckdb:"url"`
	Method             string     `duckdb:"method"`
	RequestHeaders     string     `duckdb:"request_headers"`
	RequestDataLength  int64      `duckdb:"request_data_length"`
	State              string     `duckdb:"state"`
	ResponseTimestamp  *time.Time `duckdb:"response_timestamp"`
	ResponseStatusCode int64      `duckdb:"response_status_code"`
	ResponseMIMEType   string     `duckdb:"response_mime_type"`
	ResponseHeaders    string     `duckdb:"response_headers"`
	ResponseDataLength int64      `duckdb:"response_data_length"`
	ResponseError      string     `duckdb:"response_error"`
}

func toNetworkRow(n *story.NetworkSample) (*networkRow, error) {
	reqHeaders, err := marshalJSON(n.RequestHeaders)
	if err != nil {
		return nil, fmt.Errorf("encode request headers: %w", err)
	}
	respHeaders, err := marshalJSON(n.ResponseHeaders)
	if err != nil {
		return nil, fmt.Errorf("encode response headers: %w", err)
	}
	return &networkRow{
		RecordingID: n.RecordingID, ID: n.ID, ParentGroupID: n.ParentGroupID, Timestamp: n.Timestamp,
		URL: n.URL, Method: n.Method, RequestHeaders: reqHeaders, RequestDataLength: n.RequestDataLength,
		State: string(n.State), ResponseTimestamp: n.ResponseTimestamp, ResponseStatusCode: n.ResponseStatusCode,
		ResponseMIMEType: n.ResponseMIMEType, ResponseHeaders: respHeaders,
		ResponseDataLength: n.ResponseDataLength, ResponseError: n.ResponseError,
	}, nil
}

func (r *networkRow) entity() (story.NetworkSample, error) {
	n := story.NetworkSample{
		ID: r.ID, RecordingID: r.RecordingID, ParentGroupID: r.ParentGroupID, Timestamp: r.Timestamp,
		URL: r.URL, Method: r.Method, RequestDataLength: r.RequestDataLength,
		State: story.NetworkState(r.State), ResponseTimestamp: r.ResponseTimestamp,
		ResponseStatusCode: r.ResponseStatusCode, ResponseMIMEType: r.ResponseMIMEType,
		ResponseDataLength: r.ResponseDataLength, ResponseError: r.ResponseError,
	}
	if err := unmarshalJSON(r.RequestHeaders, &n.RequestHeaders); err != nil {
		return n, fmt.Errorf("decode request headers of %s: %w", r.ID, err)
	}
	if err := unmarshalJSON(r.ResponseHeaders, &n.ResponseHeaders); err != nil {
		return n, fmt.Errorf("decode response headers of %s: %w", r.ID, err)
	}
	return n, nil
}

type logRow struct {
	RecordingID   string    `duckdb:"recording_id,pk"`
	ID            string    `duckdb:"id,pk"`
	ParentGroupID string    `duckdb:"parent_group_id"`
	Timestamp     time.Time `duckdb:"timestamp"`
	Level         string    `duckdb:"level"`
	Subsystem     string    `duckdb:"subsystem"`
	Category      string    `duckdb:"category"`
	Line          string    `duckdb:"line"`
}

func toLogRow(l *story.LogSample) *logRow {
	return &logRow{
		RecordingID: l.RecordingID, ID: l.ID, ParentGroupID: l.ParentGroupID, Timestamp: l.Timestamp,
		Level: l.Level, Subsystem: l.Subsystem, Category: l.Category, Line: l.Line,
	}
}

func (r *logRow) entity() story.LogSample {
	return story.LogSample{
		ID: r.ID, RecordingID: r.RecordingID, ParentGroupID: r.ParentGroupID, Timestamp: r.Timestamp,
		Level: r.Level, Subsystem: r.Subsystem, Category: r.Category, Line: r.Line,
	}
}

type tagRow struct {
	RecordingID   string    `duckdb:"recording_id,pk"`
	ID            string    `duckdb:"id,pk"`
	ParentGroupID string    `duckdb:"parent_group_id"`
	Timestamp     time.Time `duckdb:"timestamp"`
	Name          string    `duckdb:"name"`
}

// marshalJSON stores nil slices and maps as the empty string.
func marshalJSON(v any) (string, error) {
	switch x := v.(type) {
	case []string:
		if x == nil {
			return "", nil
		}
	case map[string]string:
		if x == nil {
			return "", nil
		}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func unmarshalJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
