// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/vecload/core"
)

// MarshalJob serializes a MigrationJob to bytes.
func MarshalJob(job *core.MigrationJob) []byte {
	buf := make([]byte, JobMUS.Size(*job))
	JobMUS.Marshal(*job, buf)
	return buf
}

// UnmarshalJob deserializes a MigrationJob from bytes.
func UnmarshalJob(data []byte) (*core.MigrationJob, error) {
	job, _, err := JobMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// MarshalJobID serializes a JobID to bytes.
func MarshalJobID(id core.JobID) []byte {
	buf := make([]byte, varint.Uint64.Size(uint64(id)))
	varint.Uint64.Marshal(uint64(id), buf)
	return buf
}

// UnmarshalJobID deserializes a JobID from bytes.
func UnmarshalJobID(data []byte) (core.JobID, error) {
	id, _, err := varint.Uint64.Unmarshal(data)
	return core.JobID(id), err
}

// JobMUS is the MUS-format serializer for MigrationJob records.
// Field order is part of the on-disk format; only append new fields.
var JobMUS = jobMUS{}

type jobMUS struct{}

func (s jobMUS) Size(j core.MigrationJob) (size int) {
	size = varint.Uint64.Size(uint64(j.Id))
	size += varint.Int.Size(int(j.Status))
	size += ord.String.Size(j.Source.Table)
	size += sizeStringMap(j.Source.Columns)
	size += ord.String.Size(j.Source.KeyColumn)
	size += ord.String.Size(j.Source.TextColumn)
	size += ord.String.Size(j.Source.NoExpandColumn)
	size += ord.String.Size(j.Source.Filter)
	size += ord.String.Size(j.Source.ResumeAfterKey)
	size += ord.String.Size(j.Destination.Table)
	size += ord.Bool.Size(j.Destination.CleanBefore)
	size += ord.Bool.Size(j.Destination.CreateIndexes)
	size += varint.Int.Size(j.Processing.BatchSize)
	size += varint.Int.Size(j.Processing.EmbedBatchSize)
	size += varint.Int64.Size(int64(j.Processing.BatchDelay))
	size += varint.Int.Size(j.Processing.MaxConsecutiveErrors)
	size += ord.Bool.Size(j.Processing.CleanText)
	size += varint.Float64.Size(j.Processing.SuccessThreshold)
	size += varint.Int64.Size(j.Progress.Total)
	size += varint.Int64.Size(j.Progress.Processed)
	size += varint.Int64.Size(j.Progress.Errors)
	size += varint.Float64.Size(j.Progress.Percentage)
	size += varint.Int64.Size(j.Progress.CurrentBatch)
	size += varint.Float64.Size(j.Progress.RecordsPerSecond)
	size += varint.Float64.Size(j.Progress.RemainingMinutes)
	size += ord.String.Size(j.Progress.LastKey)
	size += sizeStringSlice(j.ErrorLog)
	size += sizeTime(j.CreatedAt)
	size += sizeTime(j.StartedAt)
	size += sizeTime(j.CompletedAt)
	size += sizeTime(j.UpdatedAt)
	return size
}

func (s jobMUS) Marshal(j core.MigrationJob, bs []byte) (n int) {
	n = varint.Uint64.Marshal(uint64(j.Id), bs)
	n += varint.Int.Marshal(int(j.Status), bs[n:])
	n += ord.String.Marshal(j.Source.Table, bs[n:])
	n += marshalStringMap(j.Source.Columns, bs[n:])
	n += ord.String.Marshal(j.Source.KeyColumn, bs[n:])
	n += ord.String.Marshal(j.Source.TextColumn, bs[n:])
	n += ord.String.Marshal(j.Source.NoExpandColumn, bs[n:])
	n += ord.String.Marshal(j.Source.Filter, bs[n:])
	n += ord.String.Marshal(j.Source.ResumeAfterKey, bs[n:])
	n += ord.String.Marshal(j.Destination.Table, bs[n:])
	n += ord.Bool.Marshal(j.Destination.CleanBefore, bs[n:])
	n += ord.Bool.Marshal(j.Destination.CreateIndexes, bs[n:])
	n += varint.Int.Marshal(j.Processing.BatchSize, bs[n:])
	n += varint.Int.Marshal(j.Processing.EmbedBatchSize, bs[n:])
	n += varint.Int64.Marshal(int64(j.Processing.BatchDelay), bs[n:])
	n += varint.Int.Marshal(j.Processing.MaxConsecutiveErrors, bs[n:])
	n += ord.Bool.Marshal(j.Processing.CleanText, bs[n:])
	n += varint.Float64.Marshal(j.Processing.SuccessThreshold, bs[n:])
	n += varint.Int64.Marshal(j.Progress.Total, bs[n:])
	n += varint.Int64.Marshal(j.Progress.Processed, bs[n:])
	n += varint.Int64.Marshal(j.Progress.Errors, bs[n:])
	n += varint.Float64.Marshal(j.Progress.Percentage, bs[n:])
	n += varint.Int64.Marshal(j.Progress.CurrentBatch, bs[n:])
	n += varint.Float64.Marshal(j.Progress.RecordsPerSecond, bs[n:])
	n += varint.Float64.Marshal(j.Progress.RemainingMinutes, bs[n:])
	n += ord.String.Marshal(j.Progress.LastKey, bs[n:])
	n += marshalStringSlice(j.ErrorLog, bs[n:])
	n += marshalTime(j.CreatedAt, bs[n:])
	n += marshalTime(j.StartedAt, bs[n:])
	n += marshalTime(j.CompletedAt, bs[n:])
	n += marshalTime(j.UpdatedAt, bs[n:])
	return n
}

func (s jobMUS) Unmarshal(bs []byte) (j core.MigrationJob, n int, err error) {
	var (
		n1     int
		id     uint64
		status int
	)
	if id, n, err = varint.Uint64.Unmarshal(bs); err != nil {
		return
	}
	j.Id = core.JobID(id)
	if status, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	j.Status = core.JobStatus(status)
	if j.Source.Table, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Source.Columns, n1, err = unmarshalStringMap(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Source.KeyColumn, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Source.TextColumn, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Source.NoExpandColumn, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Source.Filter, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Source.ResumeAfterKey, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Destination.Table, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Destination.CleanBefore, n1, err = ord.Bool.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Destination.CreateIndexes, n1, err = ord.Bool.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Processing.BatchSize, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Processing.EmbedBatchSize, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	var delay int64
	if delay, n1, err = varint.Int64.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	j.Processing.BatchDelay = time.Duration(delay)
	if j.Processing.MaxConsecutiveErrors, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Processing.CleanText, n1, err = ord.Bool.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Processing.SuccessThreshold, n1, err = varint.Float64.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Progress.Total, n1, err = varint.Int64.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Progress.Processed, n1, err = varint.Int64.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Progress.Errors, n1, err = varint.Int64.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Progress.Percentage, n1, err = varint.Float64.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Progress.CurrentBatch, n1, err = varint.Int64.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Progress.RecordsPerSecond, n1, err = varint.Float64.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Progress.RemainingMinutes, n1, err = varint.Float64.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.Progress.LastKey, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.ErrorLog, n1, err = unmarshalStringSlice(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.CreatedAt, n1, err = unmarshalTime(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.StartedAt, n1, err = unmarshalTime(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.CompletedAt, n1, err = unmarshalTime(bs[n:]); err != nil {
		return
	}
	n += n1
	if j.UpdatedAt, n1, err = unmarshalTime(bs[n:]); err != nil {
		return
	}
	n += n1
	return j, n, nil
}

// Timestamps are stored as Unix microseconds; the zero time is stored as 0.

func sizeTime(t time.Time) int {
	var micros int64
	if !t.IsZero() {
		micros = t.UnixMicro()
	}
	return varint.Int64.Size(micros)
}

func marshalTime(t time.Time, bs []byte) int {
	var micros int64
	if !t.IsZero() {
		micros = t.UnixMicro()
	}
	return varint.Int64.Marshal(micros, bs)
}

func unmarshalTime(bs []byte) (time.Time, int, error) {
	micros, n, err := varint.Int64.Unmarshal(bs)
	if err != nil || micros == 0 {
		return time.Time{}, n, err
	}
	return time.UnixMicro(micros).UTC(), n, nil
}

func sizeStringSlice(ss []string) int {
	size := varint.Int.Size(len(ss))
	for _, s := range ss {
		size += ord.String.Size(s)
	}
	return size
}

func marshalStringSlice(ss []string, bs []byte) (n int) {
	n = varint.Int.Marshal(len(ss), bs)
	for _, s := range ss {
		n += ord.String.Marshal(s, bs[n:])
	}
	return n
}

func unmarshalStringSlice(bs []byte) (ss []string, n int, err error) {
	var length, n1 int
	if length, n, err = varint.Int.Unmarshal(bs); err != nil {
		return
	}
	if length == 0 {
		return nil, n, nil
	}
	ss = make([]string, length)
	for i := 0; i < length; i++ {
		if ss[i], n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
			return
		}
		n += n1
	}
	return ss, n, nil
}

func sizeStringMap(m map[string]string) int {
	size := varint.Int.Size(len(m))
	for k, v := range m {
		size += ord.String.Size(k)
		size += ord.String.Size(v)
	}
	return size
}

func marshalStringMap(m map[string]string, bs []byte) (n int) {
	n = varint.Int.Marshal(len(m), bs)
	for k, v := range m {
		n += ord.String.Marshal(k, bs[n:])
		n += ord.String.Marshal(v, bs[n:])
	}
	return n
}

func unmarshalStringMap(bs []byte) (m map[string]string, n int, err error) {
	var length, n1 int
	var k, v string
	if length, n, err = varint.Int.Unmarshal(bs); err != nil {
		return
	}
	if length == 0 {
		return nil, n, nil
	}
	m = make(map[string]string, length)
	for i := 0; i < length; i++ {
		if k, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
			return
		}
		n += n1
		if v, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
			return
		}
		n += n1
		m[k] = v
	}
	return m, n, nil
}
