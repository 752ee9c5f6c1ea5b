package metrics

import "time"

// Noop は何も記録しないMetricsCollector。テストとメトリクス無効構成で使用する。
type Noop struct{}

// NewNoop はNoopの新しいインスタンスを生成する。
func NewNoop() *Noop { return &Noop{} }

func (Noop) RecordSyncSuccess(accountType string)                {}
func (Noop) RecordSyncSkipped(accountType string)                {}
func (Noop) RecordSyncFailure(accountType string, reason string) {}
func (Noop) RecordParseFailure()                                 {}
func (Noop) RecordAuthFailure(serviceType string)                {}
func (Noop) RecordHTTPStatus(statusCode int)                     {}
func (Noop) RecordSyncLatency(duration time.Duration)            {}
func (Noop) RecordItemsInserted(count int)                       {}
func (Noop) RecordItemsUpdated(count int)                        {}
func (Noop) RecordItemsPruned(count int)                         {}

// compile-time interface check
var _ MetricsCollector = Noop{}
