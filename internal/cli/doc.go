// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the chatgate command line on spf13/cobra.
//
// # Commands
//
//	chatgate serve [--addr host:port]
//	chatgate conversations list|show|export|prune|create|delete
//	chatgate version [-o text|json|short]
//
// Global flags --config and --env-file select the TOML config and the
// dotenv file. The dotenv file is loaded first and never overrides
// variables already set, then CHATGATE_* overrides apply on top of the
// config file.
//
// Commands return errors instead of exiting; Execute maps them to exit
// codes with ExitCode.
package cli
