// Command handlers for the strata CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/agilira/go-errors"
	"github.com/agilira/orpheus/pkg/orpheus"
	"github.com/agilira/strata"
)

// client builds a Client for the command's profile flag. The caller closes.
func (m *Manager) client(ctx *orpheus.Context, onChange func(*strata.ChangeEvent)) (*strata.Client, error) {
	return strata.NewClientWithOptions(strata.ClientOptions{
		Profile: ctx.GetFlagString("profile"),
	}, onChange)
}

// handleRead prints the value of one key, or "reset" when unset.
func (m *Manager) handleRead(ctx *orpheus.Context) error {
	key := ctx.GetArg(0)
	if err := strata.CheckKey(key); err != nil {
		return err
	}

	client, err := m.client(ctx, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	if m.auditLogger != nil {
		m.auditLogger.LogSubscription("cli_read", key)
	}

	var value *strata.Value
	switch {
	case ctx.GetFlagBool("default"):
		value = client.ReadDefault(key)
	case ctx.GetFlagBool("user"):
		value = client.ReadUser(key)
	default:
		value = client.Read(key)
	}

	fmt.Println(value.String())
	return nil
}

// handleList prints the relative names under a dir.
func (m *Manager) handleList(ctx *orpheus.Context) error {
	dir := ctx.GetArg(0)
	if err := strata.CheckDir(dir); err != nil {
		return err
	}

	client, err := m.client(ctx, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	for _, rel := range client.List(dir) {
		fmt.Println(rel)
	}
	return nil
}

// handleListLocks prints the locked keys under a dir.
func (m *Manager) handleListLocks(ctx *orpheus.Context) error {
	dir := ctx.GetArg(0)
	if err := strata.CheckDir(dir); err != nil {
		return err
	}

	client, err := m.client(ctx, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	for _, lock := range client.ListLocks(dir) {
		fmt.Println(lock)
	}
	return nil
}

// handleWritable reports whether a key accepts writes.
func (m *Manager) handleWritable(ctx *orpheus.Context) error {
	key := ctx.GetArg(0)
	if err := strata.CheckKey(key); err != nil {
		return err
	}

	client, err := m.client(ctx, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Println(client.IsWritable(key))
	return nil
}

// handleDump walks a dir recursively and prints every key with its value.
func (m *Manager) handleDump(ctx *orpheus.Context) error {
	dir := ctx.GetArg(0)
	if err := strata.CheckDir(dir); err != nil {
		return err
	}

	client, err := m.client(ctx, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	keys := collectKeys(client, dir)
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("%s %s\n", key, client.Read(key).String())
	}
	return nil
}

// collectKeys gathers every key under dir, depth first.
func collectKeys(client *strata.Client, dir string) []string {
	var keys []string
	for _, rel := range client.List(dir) {
		if strings.HasSuffix(rel, "/") {
			keys = append(keys, collectKeys(client, dir+rel)...)
		} else {
			keys = append(keys, dir+rel)
		}
	}
	return keys
}

// handleWrite synchronously writes one typed literal to a key.
func (m *Manager) handleWrite(ctx *orpheus.Context) error {
	key := ctx.GetArg(0)
	literal := ctx.GetArg(1)

	if err := strata.CheckKey(key); err != nil {
		return err
	}
	value, err := strata.ParseValue(literal)
	if err != nil {
		return err
	}

	client, err := m.client(ctx, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	if m.auditLogger != nil {
		m.auditLogger.LogSubscription("cli_write", key)
	}

	tag, err := client.Write(context.Background(), key, value)
	if err != nil {
		return err
	}
	fmt.Println(tag)
	return nil
}

// handleReset synchronously resets a key, or a whole dir.
func (m *Manager) handleReset(ctx *orpheus.Context) error {
	path := ctx.GetArg(0)
	if err := strata.CheckPath(path); err != nil {
		return err
	}

	client, err := m.client(ctx, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	tag, err := client.Write(context.Background(), path, nil)
	if err != nil {
		return err
	}
	fmt.Println(tag)
	return nil
}

// handleLoad applies a key file onto a dir in one synchronous changeset.
func (m *Manager) handleLoad(ctx *orpheus.Context) error {
	dir := ctx.GetArg(0)
	filePath := ctx.GetArg(1)

	if err := strata.CheckDir(dir); err != nil {
		return err
	}

	keyFile, err := loadKeyFile(filePath)
	if err != nil {
		return err
	}

	changeset := strata.NewChangeset()
	for rel, literal := range keyFile.Settings {
		value, err := strata.ParseValue(literal)
		if err != nil {
			return errors.Wrap(err, strata.ErrCodeInvalidValue, "invalid literal in key file").
				WithContext("path", rel)
		}
		if err := changeset.Set(joinPath(dir, rel), value); err != nil {
			return err
		}
	}

	client, err := m.client(ctx, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	tag, err := client.Change(context.Background(), changeset)
	if err != nil {
		return err
	}
	fmt.Println(tag)
	return nil
}

// handleWatch streams change notifications for a path until interrupted.
func (m *Manager) handleWatch(ctx *orpheus.Context) error {
	path := ctx.GetArg(0)
	if err := strata.CheckPath(path); err != nil {
		return err
	}

	client, err := m.client(ctx, func(event *strata.ChangeEvent) {
		for _, change := range event.Changes {
			fmt.Println(event.Prefix + change)
		}
	})
	if err != nil {
		return err
	}
	defer client.Close()

	client.Watch(path)
	defer client.Unwatch(path)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt
	return nil
}

// handleCompile builds a database file from a key file, then raises the
// invalidation flag so running engines reopen.
func (m *Manager) handleCompile(ctx *orpheus.Context) error {
	output := ctx.GetArg(0)
	input := ctx.GetArg(1)

	keyFile, err := loadKeyFile(input)
	if err != nil {
		return err
	}

	contents := strata.NewDatabaseChangeset(nil)
	for key, literal := range keyFile.Settings {
		if strata.CheckKey(key) != nil {
			return errors.New(strata.ErrCodeInvalidPath, "key file entries must be absolute keys").
				WithContext("path", key)
		}
		value, err := strata.ParseValue(literal)
		if err != nil {
			return err
		}
		if err := contents.Set(key, value); err != nil {
			return err
		}
	}

	if err := strata.WriteDatabaseFile(output, contents, keyFile.Locks); err != nil {
		return err
	}

	// Flag by database name so live readers of the same name reopen.
	name := strings.TrimSuffix(baseName(output), ".db")
	dirs := strata.DefaultDirs()
	return strata.FlagShm(dirs.ShmDir, name)
}
