// Copyright 2016-2026 Gal Pressman
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// Chunks splits items into consecutive chunks of at most n elements.
// Every chunk except possibly the last has exactly n elements;
// concatenating the chunks yields the original slice.
func Chunks[T any](items []T, n int) [][]T {
	if n <= 0 || len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+n-1)/n)
	for i := 0; i < len(items); i += n {
		end := i + n
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}

// JoinList formats a string list for a chat message.
func JoinList(items []string) string {
	return strings.Join(items, ", ")
}

// DownloadFile fetches url and writes the body to path.
func DownloadFile(url, path string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %s: status %d", url, resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
