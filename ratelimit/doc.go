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


// Package ratelimit paces outbound requests against a target site.
//
// A Limiter enforces three independent ceilings over trailing windows of one
// minute, one hour and one day, plus a minimum delay between any two
// consecutive requests. Windows are checked tightest first, so the nearest
// constraint always determines the wait.
//
// # Usage
//
//	limiter, err := ratelimit.New(ratelimit.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	waited, err := limiter.Acquire(ctx)
//	if err != nil {
//	    return err // ctx canceled or timed out
//	}
//
// Acquire never fails for any reason other than the context: it only waits.
// Concurrent callers are served one at a time, and a caller still waiting
// for its turn can be canceled as well.
package ratelimit
