/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package config loads and hot-reloads the settings SPEC_FULL §4 adds on
// top of spec.md §6: one YAML/TOML/JSON document (whatever extension the
// path carries, viper sniffs it), validated, and re-read on write without
// restarting the process.
package config

import (
	"path/filepath"
	"sync"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	liberr "github.com/sabouaram/streamcore/errors"
)

const (
	ErrRead     = liberr.MinPkgConfig + 1
	ErrDecode   = liberr.MinPkgConfig + 2
	ErrValidate = liberr.MinPkgConfig + 3
	ErrWatch    = liberr.MinPkgConfig + 4
)

func init() {
	msg := map[liberr.CodeError]string{
		ErrRead:     "could not read configuration file",
		ErrDecode:   "could not decode configuration into settings",
		ErrValidate: "configuration failed validation",
		ErrWatch:    "could not start configuration file watcher",
	}
	for code, text := range msg {
		c, t := code, text
		liberr.RegisterIdFctMessage(c, func(liberr.CodeError) string { return t })
	}
	liberr.RegisterCategory(ErrRead, liberr.CategoryConfig)
	liberr.RegisterCategory(ErrDecode, liberr.CategoryConfig)
	liberr.RegisterCategory(ErrValidate, liberr.CategoryConfig)
	liberr.RegisterCategory(ErrWatch, liberr.CategoryConfig)
}

// Settings is the process configuration, spec §6's wire/behavior
// parameters plus SPEC_FULL §4's supplemented ones.
type Settings struct {
	ListenAddr    string `mapstructure:"listen_addr" validate:"omitempty,hostname_port"`
	DialAddr      string `mapstructure:"dial_addr" validate:"omitempty,hostname_port"`
	TransportName string `mapstructure:"transport" validate:"required,oneof=tcp http-tunnel websocket udp dns-tunnel"`

	WorkerCount      int           `mapstructure:"worker_count" validate:"gte=0"`
	SessionTimeout   time.Duration `mapstructure:"session_timeout" validate:"gte=0"`
	KeepaliveSeconds int           `mapstructure:"keepalive_interval_sec" validate:"gte=0"`

	MaxConnPerAddr    int   `mapstructure:"max_conn_per_addr" validate:"gte=0"`
	MaxReassemblySize int64 `mapstructure:"max_reassembly_size" validate:"gte=0"`

	DecryptErrorThreshold int `mapstructure:"decrypt_error_threshold" validate:"gte=0"`
	DecryptErrorWindowSec int `mapstructure:"decrypt_error_window_sec" validate:"gte=0"`

	EncType uint8 `mapstructure:"enc_type"`
	KEMType uint8 `mapstructure:"kem_type"`

	TLSCertFile string `mapstructure:"tls_cert_file" validate:"omitempty,file"`
	TLSKeyFile  string `mapstructure:"tls_key_file" validate:"omitempty,file"`

	DNSZone   string `mapstructure:"dns_zone" validate:"omitempty"`
	DNSServer string `mapstructure:"dns_server" validate:"omitempty"`

	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=panic fatal error warn info debug trace"`
}

// Default returns the settings spec §6/§4's defaults, before any file is
// merged over them.
func Default() Settings {
	return Settings{
		TransportName:         "tcp",
		WorkerCount:           0,
		SessionTimeout:        5 * time.Minute,
		KeepaliveSeconds:      30,
		MaxConnPerAddr:        0,
		MaxReassemblySize:     16 << 20,
		DecryptErrorThreshold: 8,
		DecryptErrorWindowSec: 10,
		LogLevel:              "info",
	}
}

var validate = validator.New()

// Load reads path (any format viper recognizes by extension) over
// Default(), then validates the result.
func Load(path string) (*Settings, error) {
	v := viper.New()
	applyDefaults(v, Default())
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, liberr.New(ErrRead, path, err)
	}

	s := Default()
	if err := v.Unmarshal(&s); err != nil {
		return nil, liberr.New(ErrDecode, path, err)
	}
	if err := validate.Struct(&s); err != nil {
		return nil, liberr.New(ErrValidate, path, err)
	}
	return &s, nil
}

func applyDefaults(v *viper.Viper, d Settings) {
	v.SetDefault("transport", d.TransportName)
	v.SetDefault("worker_count", d.WorkerCount)
	v.SetDefault("session_timeout", d.SessionTimeout)
	v.SetDefault("keepalive_interval_sec", d.KeepaliveSeconds)
	v.SetDefault("max_conn_per_addr", d.MaxConnPerAddr)
	v.SetDefault("max_reassembly_size", d.MaxReassemblySize)
	v.SetDefault("decrypt_error_threshold", d.DecryptErrorThreshold)
	v.SetDefault("decrypt_error_window_sec", d.DecryptErrorWindowSec)
	v.SetDefault("log_level", d.LogLevel)
}

// Watcher reloads Settings from its file whenever the file changes on
// disk, using fsnotify directly (rather than viper's own WatchConfig) so
// a malformed in-flight write never replaces a last-known-good Settings.
type Watcher struct {
	path string

	mu       sync.RWMutex
	current  *Settings
	watcher  *fsnotifyWatcher
	onChange func(*Settings)
	onError  func(error)
}

// NewWatcher loads path once, then watches it for further writes.
func NewWatcher(path string, onChange func(*Settings), onError func(error)) (*Watcher, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{path: path, current: s, onChange: onChange, onError: onError}
	fw, err := newFsnotifyWatcher(filepath.Dir(path))
	if err != nil {
		return nil, liberr.New(ErrWatch, path, err)
	}
	w.watcher = fw

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for ev := range w.watcher.events(w.path) {
		_ = ev
		s, err := Load(w.path)
		if err != nil {
			if w.onError != nil {
				w.onError(err)
			}
			continue
		}
		w.mu.Lock()
		w.current = s
		w.mu.Unlock()
		if w.onChange != nil {
			w.onChange(s)
		}
	}
}

// Current returns the most recently loaded Settings.
func (w *Watcher) Current() *Settings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.close()
}
