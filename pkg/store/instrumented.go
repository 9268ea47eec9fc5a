package store

import (
	"context"
	"time"
)

// Metrics receives one call per Store operation.
type Metrics interface {
	RecordOperation(operation, domain string, duration time.Duration, err error)
}

// Instrument wraps s so every call is reported to m. A nil m returns s as is.
func Instrument(s Store, m Metrics) Store {
	if m == nil {
		return s
	}
	return &instrumented{next: s, metrics: m}
}

type instrumented struct {
	next    Store
	metrics Metrics
}

func (s *instrumented) observe(op string, d Domain, start time.Time, err error) {
	s.metrics.RecordOperation(op, string(d), time.Since(start), err)
}

func (s *instrumented) Read(ctx context.Context, d Domain) ([]Row, error) {
	start := time.Now()
	rows, err := s.next.Read(ctx, d)
	s.observe("read", d, start, err)
	return rows, err
}

func (s *instrumented) Append(ctx context.Context, d Domain, row Row) error {
	start := time.Now()
	err := s.next.Append(ctx, d, row)
	s.observe("append", d, start, err)
	return err
}

func (s *instrumented) Write(ctx context.Context, d Domain, rows []Row) error {
	start := time.Now()
	err := s.next.Write(ctx, d, rows)
	s.observe("write", d, start, err)
	return err
}

func (s *instrumented) Update(ctx context.Context, d Domain, fn UpdateFunc) error {
	start := time.Now()
	err := s.next.Update(ctx, d, fn)
	s.observe("update", d, start, err)
	return err
}

func (s *instrumented) Close() error {
	return s.next.Close()
}
