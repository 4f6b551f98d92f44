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

// Package cmd is the CLI entry point: a cobra root command wrapping
// serve (endpoint/server) and dial (endpoint/client) against one
// configuration file.
package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	colorable "github.com/mattn/go-colorable"
	"github.com/spf13/cobra"
)

var (
	cfgFile string

	stdout = colorable.NewColorableStdout()
)

// Root builds the top-level "streamcore" command.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:           "streamcore",
		Short:         "Multiplexed, encrypted, pluggable-transport stream endpoint",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to the configuration file")
	_ = root.MarkPersistentFlagRequired("config")

	root.AddCommand(serveCmd(), dialCmd())
	return root
}

// Execute runs the CLI, printing any returned error in red before
// exiting non-zero.
func Execute() {
	if err := Root().Execute(); err != nil {
		fmt.Fprintln(stdout, color.RedString("error: %v", err))
		os.Exit(1)
	}
}
