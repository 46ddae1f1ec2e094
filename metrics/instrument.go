package metrics

import (
	"context"
	"time"

	"github.com/vitalform/survey-key-escrow/interfaces"
)

// CountingAuditLog wraps an audit log so every entry that lands also
// increments the operations counter. A failed append increments the
// append failure counter instead; the operation it would have described
// is refused anyway.
func CountingAuditLog(inner interfaces.AuditLog, m *Metrics) interfaces.AuditLog {
	return &countingAuditLog{inner: inner, m: m}
}

type countingAuditLog struct {
	inner interfaces.AuditLog
	m     *Metrics
}

func (l *countingAuditLog) Append(ctx context.Context, entry interfaces.AuditEntry) error {
	if err := l.inner.Append(ctx, entry); err != nil {
		l.m.RecordAuditAppendFailure()
		return err
	}
	l.m.RecordOperation(entry.Operation, entry.Outcome)
	return nil
}

// InstrumentedSecretStore wraps a secret store so every request is timed
// and failures are counted by error category.
func InstrumentedSecretStore(inner interfaces.SecretStore, m *Metrics) interfaces.SecretStore {
	return &instrumentedStore{inner: inner, m: m}
}

type instrumentedStore struct {
	inner interfaces.SecretStore
	m     *Metrics
}

func (s *instrumentedStore) Put(ctx context.Context, path string, value []byte) (int, error) {
	start := time.Now()
	version, err := s.inner.Put(ctx, path, value)
	s.m.ObserveStoreRequest("put", time.Since(start), err)
	return version, err
}

func (s *instrumentedStore) Get(ctx context.Context, path string, version int) ([]byte, error) {
	start := time.Now()
	value, err := s.inner.Get(ctx, path, version)
	s.m.ObserveStoreRequest("get", time.Since(start), err)
	return value, err
}

func (s *instrumentedStore) Health(ctx context.Context) (interfaces.StoreHealth, error) {
	start := time.Now()
	health, err := s.inner.Health(ctx)
	s.m.ObserveStoreRequest("health", time.Since(start), err)
	return health, err
}

func (s *instrumentedStore) Authenticate(ctx context.Context) error {
	start := time.Now()
	err := s.inner.Authenticate(ctx)
	s.m.ObserveStoreRequest("authenticate", time.Since(start), err)
	return err
}
