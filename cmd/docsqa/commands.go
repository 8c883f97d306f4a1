// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/datatypes"
)

func httpClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Minute}
}

func postJSON(path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := httpClient().Post(serverURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func getJSON(path string, out any) error {
	resp, err := httpClient().Get(serverURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(bodyBytes, &errBody) == nil && errBody.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, errBody.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(bodyBytes))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(bodyBytes, out)
}

func askCmd() *cobra.Command {
	var topK int
	var debug bool
	var agentMode bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question of the indexed documentation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			path := "/ask"
			if agentMode {
				path = "/ask_agent"
			}

			var resp datatypes.AskResponse
			err := postJSON(path, datatypes.AskRequest{
				Question: question,
				TopK:     topK,
				Debug:    debug,
			}, &resp)
			if err != nil {
				return err
			}

			fmt.Println(resp.Answer)
			if len(resp.Citations) > 0 {
				fmt.Println("\nSources:")
				for _, c := range resp.Citations {
					fmt.Printf("  [%s#%s] %s\n", c.Source, c.ChunkID, c.Snippet)
				}
			}
			if debug && resp.Debug != nil {
				fmt.Println("\nRetrieved:")
				for _, r := range resp.Debug.Retrieved {
					fmt.Printf("  %s score=%.4f\n", r.ChunkID, r.Score)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of chunks to retrieve (0 = server default)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Include retrieval debug info")
	cmd.Flags().BoolVar(&agentMode, "agent", false, "Use the multi-step agent pipeline")
	return cmd
}

func docsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "docs",
		Short: "List the ingested documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Documents []datatypes.DocumentInfo `json:"documents"`
			}
			if err := getJSON("/docs", &resp); err != nil {
				return err
			}
			if len(resp.Documents) == 0 {
				fmt.Println("No documents ingested.")
				return nil
			}
			for _, d := range resp.Documents {
				fmt.Printf("%s  %d chars  %s\n", d.Source, d.Chars, d.Hash[:12])
			}
			return nil
		},
	}
}

func indexCmd() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Trigger a re-index of the document set",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp datatypes.IndexJobResponse
			if err := postJSON("/index", struct{}{}, &resp); err != nil {
				return err
			}
			fmt.Println("Job:", resp.JobID)
			if !wait {
				return nil
			}
			return waitForJob(resp.JobID)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the job finishes")
	return cmd
}

func waitForJob(id string) error {
	for {
		time.Sleep(time.Second)
		var job struct {
			State string `json:"state"`
			Error string `json:"error"`
		}
		if err := getJSON("/jobs/"+id, &job); err != nil {
			return err
		}
		fmt.Println("State:", job.State)
		switch job.State {
		case "succeeded":
			return nil
		case "failed":
			return fmt.Errorf("index job failed: %s", job.Error)
		}
	}
}

func jobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs <job-id>",
		Short: "Show the status of an index job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job map[string]any
			if err := getJSON("/jobs/"+args[0], &job); err != nil {
				return err
			}
			pretty, err := json.MarshalIndent(job, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(pretty))
			return nil
		},
	}
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Add documents to the service",
	}
	cmd.AddCommand(ingestFileCmd())
	cmd.AddCommand(ingestURLCmd())
	return cmd
}

func ingestFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "file <path>...",
		Short: "Upload local .txt or .md files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				if err := uploadFile(path); err != nil {
					return fmt.Errorf("upload %s: %w", path, err)
				}
			}
			return nil
		},
	}
}

func uploadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := part.Write(content); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	resp, err := httpClient().Post(serverURL+"/ingest/upload",
		writer.FormDataContentType(), &body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		Source string `json:"source"`
		JobID  string `json:"job_id"`
	}
	if err := decodeResponse(resp, &out); err != nil {
		return err
	}
	fmt.Printf("Uploaded %s (job %s)\n", out.Source, out.JobID)
	return nil
}

func ingestURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "url <url>",
		Short: "Fetch a document by URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Source string `json:"source"`
				JobID  string `json:"job_id"`
			}
			if err := postJSON("/ingest/url",
				datatypes.IngestURLRequest{URL: args[0]}, &out); err != nil {
				return err
			}
			fmt.Printf("Fetched %s (job %s)\n", out.Source, out.JobID)
			return nil
		},
	}
}
