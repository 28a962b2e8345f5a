// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness-based event reactor abstraction
// used by the transport's event loop, with an epoll implementation for Linux.
package reactor
