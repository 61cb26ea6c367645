package db

import (
	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/db/database"
	"github.com/pdtopdog/piwheels/internal/db/schema"
)

var updates = []schema.Update{
	updateFromV0,
	updateFromV1,
}

func updateFromV0(tx database.Tx) error {
	stmt := `
CREATE TABLE packages (
    package    TEXT PRIMARY KEY NOT NULL,
    skip       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE versions (
    package    TEXT NOT NULL REFERENCES packages (package),
    version    TEXT NOT NULL,
    released   DATETIME NOT NULL,
    skip       TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (package, version)
);
CREATE TABLE builds (
    build_id   INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
    package    TEXT NOT NULL,
    version    TEXT NOT NULL,
    abi_tag    TEXT NOT NULL,
    built_by   TEXT NOT NULL,
    duration   INTEGER NOT NULL,
    status     INTEGER NOT NULL,
    built_at   DATETIME NOT NULL,
    output     TEXT NOT NULL,
    FOREIGN KEY (package, version) REFERENCES versions (package, version)
);
CREATE INDEX builds_pkgver ON builds (package, version);
CREATE TABLE files (
    filename            TEXT PRIMARY KEY NOT NULL,
    build_id            INTEGER NOT NULL REFERENCES builds (build_id) ON DELETE CASCADE,
    filesize            INTEGER NOT NULL,
    filehash            TEXT NOT NULL,
    package_tag         TEXT NOT NULL,
    package_version_tag TEXT NOT NULL,
    py_version_tag      TEXT NOT NULL,
    abi_tag             TEXT NOT NULL,
    platform_tag        TEXT NOT NULL
);
CREATE INDEX files_build ON files (build_id);
CREATE TABLE dependencies (
    filename   TEXT NOT NULL REFERENCES files (filename) ON DELETE CASCADE,
    tool       TEXT NOT NULL CHECK (tool IN ('apt', 'pip', '')),
    dependency TEXT NOT NULL,
    PRIMARY KEY (filename, tool, dependency)
);
CREATE TABLE downloads (
    filename       TEXT NOT NULL,
    accessed_by    TEXT NOT NULL,
    accessed_at    DATETIME NOT NULL,
    arch           TEXT NOT NULL DEFAULT '',
    distro_name    TEXT NOT NULL DEFAULT '',
    distro_version TEXT NOT NULL DEFAULT '',
    os_name        TEXT NOT NULL DEFAULT '',
    os_version     TEXT NOT NULL DEFAULT '',
    py_name        TEXT NOT NULL DEFAULT '',
    py_version     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX downloads_filename ON downloads (filename);
`
	_, err := tx.Exec(stmt)
	return errors.WithStack(err)
}

func updateFromV1(tx database.Tx) error {
	stmt := `
CREATE TABLE build_abis (
    abi_tag    TEXT PRIMARY KEY NOT NULL
);
CREATE TABLE configuration (
    id          INTEGER PRIMARY KEY NOT NULL CHECK (id = 1),
    pypi_serial INTEGER NOT NULL DEFAULT 0
);
INSERT INTO configuration (id, pypi_serial) VALUES (1, 0);
`
	_, err := tx.Exec(stmt)
	return errors.WithStack(err)
}
