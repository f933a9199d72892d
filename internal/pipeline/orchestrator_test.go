package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/config"
	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/types"
)

// --- Mocks ---

type mockStore struct {
	bucket   string
	puts     []string // keys written via Put
	putErr   error
	putFiles []string // keys written via PutFile
	fileErr  error
}

func (m *mockStore) Bucket() string { return m.bucket }

func (m *mockStore) Put(_ context.Context, key string, _ []byte, _ string, _ bool) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.puts = append(m.puts, key)
	return nil
}

func (m *mockStore) PutFile(_ context.Context, key, _ string) error {
	if m.fileErr != nil {
		return m.fileErr
	}
	m.putFiles = append(m.putFiles, key)
	return nil
}

type mockCreds struct {
	calls int
	err   error
}

func (m *mockCreds) Get(context.Context) (types.Credentials, error) {
	m.calls++
	if m.err != nil {
		return types.Credentials{}, m.err
	}
	return types.Credentials{Hostname: "h", Username: "u", Password: "p"}, nil
}

// mockFetcher writes a real temp file so cleanup can be observed.
type mockFetcher struct {
	t       *testing.T
	calls   int
	err     error
	lastDir string
	path    string
}

func (m *mockFetcher) Fetch(_ context.Context, trigger types.Trigger, eventPath string, ts int64) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	dir := m.lastDir
	if dir == "" {
		dir = m.t.TempDir()
		m.lastDir = dir
	}
	path := filepath.Join(dir, "clip.mp4")
	require.NoError(m.t, os.WriteFile(path, []byte("video"), 0o600))
	m.path = path
	return path, nil
}

type mockDLQ struct {
	calls   []string // reasons
	lastMsg *types.AlarmEvent
	err     error
}

func (m *mockDLQ) SendToDeadLetter(_ context.Context, alarm *types.AlarmEvent, reason string) (string, error) {
	m.calls = append(m.calls, reason)
	m.lastMsg = alarm
	if m.err != nil {
		return "", m.err
	}
	return "dlq-msg-1", nil
}

type mockNotifier struct {
	calls []string // reasons
	err   error
}

func (m *mockNotifier) NotifyFailure(_ context.Context, _ *types.AlarmEvent, reason, correlationID string) error {
	m.calls = append(m.calls, reason)
	return m.err
}

type mockMetrics struct {
	processed   []string
	videoFailed []string
}

func (m *mockMetrics) PublishAlarmProcessed(_ context.Context, outcome string) error {
	m.processed = append(m.processed, outcome)
	return nil
}

func (m *mockMetrics) PublishVideoDownloadFailed(_ context.Context, device string) error {
	m.videoFailed = append(m.videoFailed, device)
	return nil
}

// --- Harness ---

type harness struct {
	store    *mockStore
	creds    *mockCreds
	fetcher  *mockFetcher
	dlq      *mockDLQ
	notifier *mockNotifier
	metrics  *mockMetrics
	orch     *Orchestrator
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		store:    &mockStore{bucket: "protect-backup-events"},
		creds:    &mockCreds{},
		fetcher:  &mockFetcher{t: t},
		dlq:      &mockDLQ{},
		notifier: &mockNotifier{},
		metrics:  &mockMetrics{},
	}
	h.orch = New(
		h.store,
		h.creds,
		h.fetcher,
		h.dlq,
		h.notifier,
		h.metrics,
		config.DeviceNameMap{"28704E113F64": "Front Door"},
		slog.Default(),
	)
	return h
}

func newAlarm(eventPath string) *types.AlarmEvent {
	return &types.AlarmEvent{
		Name:      "Motion detected",
		Timestamp: 1691000000000,
		Triggers: []types.Trigger{
			{Key: "motion", Device: "28704E113F64", EventID: "evt_123456789"},
		},
		Sources:    []types.Source{{Device: "28704E113F64", Type: "include"}},
		Conditions: []types.Condition{{Condition: types.ConditionDetail{Type: "is", Source: "motion"}}},
		EventPath:  eventPath,
	}
}

// --- Tests ---

func TestProcess_FullSuccess(t *testing.T) {
	h := newHarness(t)

	result, err := h.orch.Process(context.Background(), newAlarm("/protect/events/evt_123456789"))
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeCompleted, result.Outcome)
	assert.Equal(t, "evt_123456789", result.EventID)
	assert.Equal(t, "2023-08-02/evt_123456789_28704E113F64_1691000000000.json", result.EventKey)
	assert.Equal(t, "Front Door", result.DeviceName)
	assert.Equal(t, int64(1691000000000), result.Timestamp)

	require.Len(t, h.store.puts, 1)
	require.Len(t, h.store.putFiles, 1)
	assert.Equal(t, "2023-08-02/evt_123456789_28704E113F64_1691000000000.mp4", h.store.putFiles[0])

	// Temp file is removed after a successful upload.
	_, statErr := os.Stat(h.fetcher.path)
	assert.True(t, os.IsNotExist(statErr), "expected temp file to be deleted")

	assert.Empty(t, h.dlq.calls)
	assert.Empty(t, h.notifier.calls)
	assert.Equal(t, []string{"completed"}, h.metrics.processed)
}

func TestProcess_NilAlarmRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Process(context.Background(), nil)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationNilAlarm, appErr.Code)

	// Validation failures never reach key derivation or storage.
	assert.Empty(t, h.store.puts)
	assert.Zero(t, h.creds.calls)
}

func TestProcess_EmptyTriggersRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Process(context.Background(), &types.AlarmEvent{Timestamp: 1})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationNoTriggers, appErr.Code)
	assert.Empty(t, h.store.puts)
}

func TestProcess_MissingBucketIsConfigError(t *testing.T) {
	h := newHarness(t)
	h.store.bucket = ""

	_, err := h.orch.Process(context.Background(), newAlarm(""))
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeConfigMissingBucket, appErr.Code)
}

func TestProcess_CredentialsFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.creds.err = errors.New("secret store down")

	_, err := h.orch.Process(context.Background(), newAlarm(""))
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeCredentialsUnavailable, appErr.Code)
	assert.Equal(t, 1, h.creds.calls, "credentials failure must not be retried inline")
	assert.Empty(t, h.store.puts)
}

func TestProcess_EventStoreFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.store.putErr = types.NewAppError(types.ErrCodeStorageWrite, "denied", nil)

	_, err := h.orch.Process(context.Background(), newAlarm("/p"))
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeStorageWrite, appErr.Code)
	assert.Zero(t, h.fetcher.calls, "video branch must not run after a fatal storage failure")
}

func TestProcess_EventArtifactIsSanitized(t *testing.T) {
	h := newHarness(t)
	alarm := newAlarm("")

	_, err := h.orch.Process(context.Background(), alarm)
	require.NoError(t, err)

	// The orchestrator works on a sanitized copy; the inbound alarm keeps its
	// sources/conditions, and the persisted trigger carries derived keys.
	require.Len(t, h.store.puts, 1)
	assert.Equal(t, "2023-08-02/evt_123456789_28704E113F64_1691000000000.json", h.store.puts[0])
	assert.Equal(t, "2023-08-02/evt_123456789_28704E113F64_1691000000000.mp4", alarm.Triggers[0].VideoKey)
	assert.Equal(t, "Front Door", alarm.Triggers[0].DeviceName)
}

func TestProcess_NoEventPathSkipsVideoBranch(t *testing.T) {
	h := newHarness(t)

	result, err := h.orch.Process(context.Background(), newAlarm(""))
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeCompleted, result.Outcome)
	assert.Zero(t, h.fetcher.calls, "fetcher must not be invoked without eventPath")
	assert.Empty(t, h.store.putFiles, "video upload must not be invoked without eventPath")
	assert.Empty(t, h.dlq.calls, "a skip is not a failure")
	assert.Empty(t, h.notifier.calls)
}

func TestProcess_VideoFetchFailureIsRecoverable(t *testing.T) {
	h := newHarness(t)
	h.fetcher.err = types.NewAppError(types.ErrCodeVideoFetch, "export timed out", nil)

	result, err := h.orch.Process(context.Background(), newAlarm("/protect/events/evt_123456789"))
	require.NoError(t, err, "video failure must not fail the alarm")

	assert.Equal(t, types.OutcomeCompletedWithoutVideo, result.Outcome)
	assert.Len(t, h.store.puts, 1, "event metadata is written exactly once")
	assert.Empty(t, h.store.putFiles)

	assert.Equal(t, []string{FailureReasonNoVideo}, h.dlq.calls)
	assert.Equal(t, []string{FailureReasonNoVideo}, h.notifier.calls)
	assert.Equal(t, []string{"completed_without_video"}, h.metrics.processed)
	assert.Equal(t, []string{"28704E113F64"}, h.metrics.videoFailed)
}

func TestProcess_VideoUploadFailureCleansUpTempFile(t *testing.T) {
	h := newHarness(t)
	h.store.fileErr = types.NewAppError(types.ErrCodeVideoUpload, "denied", nil)

	result, err := h.orch.Process(context.Background(), newAlarm("/p"))
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeCompletedWithoutVideo, result.Outcome)

	// Cleanup happens even when the upload fails.
	require.NotEmpty(t, h.fetcher.path)
	_, statErr := os.Stat(h.fetcher.path)
	assert.True(t, os.IsNotExist(statErr), "expected temp file to be deleted after failed upload")

	assert.Equal(t, []string{FailureReasonNoVideo}, h.dlq.calls)
}

func TestProcess_NotificationFailureDoesNotChangeOutcome(t *testing.T) {
	h := newHarness(t)
	h.fetcher.err = errors.New("fetch failed")
	h.notifier.err = types.NewAppError(types.ErrCodeNotificationSend, "ses down", nil)
	h.dlq.err = errors.New("dlq down")

	result, err := h.orch.Process(context.Background(), newAlarm("/p"))
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeCompletedWithoutVideo, result.Outcome)
}

func TestProcess_ZeroTimestampAccepted(t *testing.T) {
	h := newHarness(t)
	alarm := newAlarm("")
	alarm.Timestamp = 0

	result, err := h.orch.Process(context.Background(), alarm)
	require.NoError(t, err)
	assert.Equal(t, "1970-01-01/evt_123456789_28704E113F64_0.json", result.EventKey)
}
