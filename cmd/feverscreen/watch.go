// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"time"

	fsnotify "gopkg.in/fsnotify.v1"
)

// watchExecutable returns when the running executable is replaced, so a
// supervisor can start the new version, or when ctx is done.
func watchExecutable(ctx context.Context) (bool, error) {
	fileName, err := os.Executable()
	if err != nil {
		return false, err
	}
	return watchFile(ctx, fileName)
}

// watchFile returns true once fileName's modification time differs from the
// one it had when called. It returns false when ctx is done.
//
// Events that leave the modification time unchanged are ignored. A deleted
// file counts as changed.
func watchFile(ctx context.Context, fileName string) (bool, error) {
	fi, err := os.Stat(fileName)
	if err != nil {
		return false, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return false, err
	}
	defer watcher.Close()
	if err = watcher.Add(fileName); err != nil {
		return false, err
	}
	return waitModified(ctx, watcher, fileName, fi.ModTime())
}

func waitModified(ctx context.Context, watcher *fsnotify.Watcher, fileName string, mod0 time.Time) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, nil
		case err := <-watcher.Errors:
			return false, err
		case <-watcher.Events:
			fi, err := os.Stat(fileName)
			if os.IsNotExist(err) {
				return true, nil
			}
			if err != nil {
				return false, err
			}
			if !fi.ModTime().Equal(mod0) {
				return true, nil
			}
		}
	}
}
