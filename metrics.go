package rlbridge

import "sync/atomic"

// Metrics tracks bridge-level statistics. It plays the same role as the
// teacher's metrics.go Metrics interface, except it wraps the Bridge
// send/recv path instead of an Azure storage driver (SPEC_FULL.md §4.10).
type Metrics interface {
	IncrementMessagesSent()
	IncrementMessagesReceived()
	IncrementBytesSent(n int64)
	IncrementBytesReceived(n int64)
	IncrementStepsServed()
	IncrementResetsServed()
	IncrementTaxonomyError(id ErrorID)

	GetMessagesSent() int64
	GetMessagesReceived() int64
	GetBytesSent() int64
	GetBytesReceived() int64
	GetStepsServed() int64
	GetResetsServed() int64
	GetTaxonomyErrorCount(id ErrorID) int64
}

// DefaultMetrics implements Metrics with atomic counters, exactly the shape
// of the teacher's DefaultMetrics in metrics.go.
type DefaultMetrics struct {
	messagesSent     int64
	messagesReceived int64
	bytesSent        int64
	bytesReceived    int64
	stepsServed      int64
	resetsServed     int64

	taxonomyErrors [6]int64 // indexed by ErrorID
}

// NewDefaultMetrics creates a new DefaultMetrics instance.
func NewDefaultMetrics() *DefaultMetrics { return &DefaultMetrics{} }

func (m *DefaultMetrics) IncrementMessagesSent()     { atomic.AddInt64(&m.messagesSent, 1) }
func (m *DefaultMetrics) IncrementMessagesReceived() { atomic.AddInt64(&m.messagesReceived, 1) }
func (m *DefaultMetrics) IncrementBytesSent(n int64) { atomic.AddInt64(&m.bytesSent, n) }
func (m *DefaultMetrics) IncrementBytesReceived(n int64) {
	atomic.AddInt64(&m.bytesReceived, n)
}
func (m *DefaultMetrics) IncrementStepsServed()  { atomic.AddInt64(&m.stepsServed, 1) }
func (m *DefaultMetrics) IncrementResetsServed() { atomic.AddInt64(&m.resetsServed, 1) }
func (m *DefaultMetrics) IncrementTaxonomyError(id ErrorID) {
	if int(id) >= 0 && int(id) < len(m.taxonomyErrors) {
		atomic.AddInt64(&m.taxonomyErrors[id], 1)
	}
}

func (m *DefaultMetrics) GetMessagesSent() int64     { return atomic.LoadInt64(&m.messagesSent) }
func (m *DefaultMetrics) GetMessagesReceived() int64 { return atomic.LoadInt64(&m.messagesReceived) }
func (m *DefaultMetrics) GetBytesSent() int64        { return atomic.LoadInt64(&m.bytesSent) }
func (m *DefaultMetrics) GetBytesReceived() int64    { return atomic.LoadInt64(&m.bytesReceived) }
func (m *DefaultMetrics) GetStepsServed() int64      { return atomic.LoadInt64(&m.stepsServed) }
func (m *DefaultMetrics) GetResetsServed() int64     { return atomic.LoadInt64(&m.resetsServed) }
func (m *DefaultMetrics) GetTaxonomyErrorCount(id ErrorID) int64 {
	if int(id) >= 0 && int(id) < len(m.taxonomyErrors) {
		return atomic.LoadInt64(&m.taxonomyErrors[id])
	}
	return 0
}
