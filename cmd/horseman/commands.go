/*
 *
 * horseman - a headless browser automation library for Go
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */
package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/liuxd6825/horseman/horseman"
)

func getStatusCmd(c *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "status URL",
		Short: "Print the HTTP status of a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(s *horseman.Session) *horseman.Chain {
				return s.Open(args[0]).Status()
			}, func(w io.Writer, v any) error {
				code, ok := v.(int64)
				if !ok {
					return fmt.Errorf("no response received for %s", args[0])
				}
				attr := color.FgGreen
				switch {
				case code >= 400:
					attr = color.FgRed
				case code >= 300:
					attr = color.FgYellow
				}
				_, err := c.colorize(attr).Fprintln(w, code)
				return err
			})
		},
	}
}

func getTextCmd(c *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "text URL [SELECTOR]",
		Short: "Print the text of an element, the page body by default",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(s *horseman.Session) *horseman.Chain {
				return s.Open(args[0]).Text(args[1:]...)
			}, printValue)
		},
	}
}

func getEvalCmd(c *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "eval URL FUNCTION [JSON-ARG...]",
		Short: "Evaluate a function in a page and print its JSON result",
		Example: `  horseman eval https://example.com 'function () { return document.title; }'
  horseman eval https://example.com 'function (sel) { return document.querySelectorAll(sel).length; }' '"a"'`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fnArgs, err := parseJSONArgs(args[2:])
			if err != nil {
				return err
			}
			return c.run(cmd, func(s *horseman.Session) *horseman.Chain {
				return s.Open(args[0]).Evaluate(args[1], fnArgs...)
			}, printJSON)
		},
	}
}

func getDoCmd(c *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "do URL ACTION [JSON-ARG...]",
		Short: "Run any registered action on a page and print its JSON result",
		Long: `Run any registered action on a page and print its JSON result.

ACTION may be spelled waitForSelector, wait_for_selector or wait-for-selector.`,
		Example: `  horseman do https://example.com count '"a"'
  horseman do https://example.com css-property '"body"' '"color"'`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actionArgs, err := parseJSONArgs(args[2:])
			if err != nil {
				return err
			}
			return c.run(cmd, func(s *horseman.Session) *horseman.Chain {
				return s.Open(args[0]).Do(args[1], actionArgs...)
			}, printJSON)
		},
	}
}

func getScreenshotCmd(c *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "screenshot URL FILE",
		Short: "Save a screenshot of a page, in the format given by the file extension",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(s *horseman.Session) *horseman.Chain {
				return s.Open(args[0]).Screenshot(args[1])
			}, func(w io.Writer, _ any) error {
				_, err := fmt.Fprintf(w, "%s %s\n", c.colorize(color.FgGreen).Sprint("saved"), args[1])
				return err
			})
		},
	}
}

func parseJSONArgs(raw []string) ([]any, error) {
	args := make([]any, 0, len(raw))
	for _, r := range raw {
		var v any
		if err := json.Unmarshal([]byte(r), &v); err != nil {
			return nil, fmt.Errorf("argument %s is not JSON: %w", r, err)
		}
		args = append(args, v)
	}
	return args, nil
}

func printValue(w io.Writer, v any) error {
	_, err := fmt.Fprintln(w, v)
	return err
}

func printJSON(w io.Writer, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(buf))
	return err
}
