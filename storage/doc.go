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


// Package storage provides the job store abstraction for vecload.
//
// The job store is the durable record of migration jobs: their
// configuration, status and progress counters. It is deliberately separate
// from both the source and destination databases so that a crashed or
// restarted process can still enumerate its jobs even when either database
// is unreachable.
//
// This package defines the JobRepository interface; storage/badger provides
// the BadgerDB-backed implementation. Constructors in backend packages
// return the interface type so consumers never couple to a specific engine.
//
// All implementations must be thread-safe. Status updates are
// read-modify-write operations executed inside a single storage
// transaction, which is what enforces the state machine edges and the
// at-most-one-active-loop invariant under concurrent control calls.
package storage
