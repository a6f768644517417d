// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads complywatch configuration.
//
// Values are layered, later layers winning:
//
//  1. Built-in defaults (Default), matching the server's own defaults
//  2. ~/.complywatch/config.toml, or the file named by --config
//  3. COMPLYWATCH_* environment variables, e.g. COMPLYWATCH_SERVER_BASE_URL
//  4. Command-line flags, applied by the cli package
//
// # Example
//
//	[server]
//	base_url = "http://localhost:8000"
//
//	[stream]
//	delay_tokens = 24
//	risk_threshold = 0.7
//	region = "HIPAA"
//
//	[display]
//	high_risk_threshold = 0.7
package config
