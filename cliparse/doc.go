// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line argument parsing and configuration.

	cfg, err := cliparse.ParseFlags(os.Args[1:])

# Sources

Flags win over the process environment, which wins over the env file
(-env, default .env, skipped when missing).

	-p            PORT                 default 3318
	-d            DATABASE_URL         required
	-t            DATABASE_TYPE        sqlite or postgres, default sqlite
	-admin-salt   ADMIN_KEY_SALT       required
	-slug-salt    POLL_SLUG_SALT       required
	-workers      CLOSE_WORKERS        default 4
	-close-scan   CLOSE_SCAN_INTERVAL  default 15s
	-methodology  METHODOLOGY_FILE     built-in defaults if empty
	-log-file     LOG_FILE             rotated file, stderr if empty
	-log-level    LOG_LEVEL            default info
	-log-format   LOG_FORMAT           json or text, default json
*/
package cliparse
