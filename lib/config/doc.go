// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the fieldvault
// service and controller.
//
// Configuration is loaded from a single file named by either the
// FIELDVAULT_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There is no automatic discovery. Files ending
// in .json or .jsonc are accepted alongside YAML; comments and
// trailing commas are stripped before parsing.
//
// The file may contain development and production sections that
// override base values when [Config].Environment matches.
//
// Path and socket fields support ${HOME}, ${FIELDVAULT_ROOT} and
// ${VAR:-default} expansion. No other environment variables override
// config values.
//
// The service reloads the file for every recording start so that
// sensor and encryption changes take effect without a restart.
package config
