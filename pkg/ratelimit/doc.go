// Package ratelimit paces calls against the upstream API.
//
// Two mechanisms cooperate. A SlidingWindow enforces a local request budget
// (requests per minute) before a request is sent. A Pacer enforces the
// mandatory wait after a response, computed from the rate-limit advisory the
// upstream attached to it:
//
//	remaining unknown  -> Policy.DefaultDelay
//	remaining <= 0     -> until the window resets, plus one second
//	remaining > 0      -> the time left in the window split evenly across
//	                      the calls left in it
//
// The result is clamped to [MinDelay, MaxDelay]; a zero MaxDelay leaves it
// unbounded.
package ratelimit
