// Command veriserve is the uploader and verification CLI. It drives the
// chunked upload protocol against a running server, fetches the current
// certification root, and checks served content against its witness.
package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/veriserve/veriserve/pkg/certification"
	"github.com/veriserve/veriserve/pkg/storage"
)

const defaultChunkSize = 1 << 20

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "upload":
		return runUpload(args[2:], stdout, stderr)
	case "root":
		return runRoot(args[2:], stdout, stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: veriserve <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  upload   Upload a file through the chunked batch protocol")
	fmt.Fprintln(w, "  root     Print the current certification root")
	fmt.Fprintln(w, "  verify   Fetch a path and verify its inclusion witness")
}

func runUpload(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("upload", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		server      string
		token       string
		collection  string
		fullPath    string
		file        string
		accessToken string
		description string
		headersFlag string
		chunkSize   int
		useGzip     bool
	)
	cmd.StringVar(&server, "server", "http://localhost:8080", "Server base URL")
	cmd.StringVar(&token, "token", "", "Upload bearer token")
	cmd.StringVar(&collection, "collection", "", "Target collection (REQUIRED)")
	cmd.StringVar(&fullPath, "path", "", "Full path of the asset, e.g. /images/logo.png (REQUIRED)")
	cmd.StringVar(&file, "file", "", "Local file to upload (REQUIRED)")
	cmd.StringVar(&accessToken, "access-token", "", "Gate the asset behind an access token")
	cmd.StringVar(&description, "description", "", "Free-text description")
	cmd.StringVar(&headersFlag, "headers", "", "Response headers, e.g. 'Cache-Control: max-age=60; Content-Type: image/png'")
	cmd.IntVar(&chunkSize, "chunk-size", defaultChunkSize, "Chunk size in bytes")
	cmd.BoolVar(&useGzip, "gzip", false, "Also upload a gzip encoding of the content")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if collection == "" || fullPath == "" || file == "" {
		fmt.Fprintln(stderr, "Error: --collection, --path, and --file are required")
		cmd.Usage()
		return 2
	}

	content, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading %s: %v\n", file, err)
		return 1
	}

	client := &uploadClient{server: server, token: token, http: http.DefaultClient}
	headers, err := parseHeaders(headersFlag)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	key := storage.InitAssetKey{
		Name:        filepath.Base(file),
		FullPath:    fullPath,
		Token:       accessToken,
		Collection:  collection,
		Description: description,
	}

	asset, err := client.upload(key, content, headers, chunkSize)
	if err != nil {
		fmt.Fprintf(stderr, "Upload failed: %v\n", err)
		return 1
	}

	if useGzip {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(content); err == nil {
			if err := gz.Close(); err == nil {
				key.EncodingType = "gzip"
				if asset, err = client.upload(key, buf.Bytes(), headers, chunkSize); err != nil {
					fmt.Fprintf(stderr, "Gzip upload failed: %v\n", err)
					return 1
				}
			}
		}
	}

	fmt.Fprintf(stdout, "Uploaded %s (version %d, %d encoding(s))\n",
		asset.Key.FullPath, asset.Version, len(asset.Encodings))
	return 0
}

func runRoot(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("root", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	server := cmd.String("server", "http://localhost:8080", "Server base URL")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	resp, err := http.Get(*server + "/v1/root")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	var root struct {
		Root   string `json:"root"`
		Leaves int    `json:"leaves"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&root); err != nil {
		fmt.Fprintf(stderr, "Error decoding response: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s (%d leaves)\n", root.Root, root.Leaves)
	return 0
}

// runVerify fetches a served path, recomputes the content hash, and
// checks the inclusion witness against the server's advertised root.
func runVerify(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	server := cmd.String("server", "http://localhost:8080", "Server base URL")
	path := cmd.String("path", "", "Full path to verify (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *path == "" {
		fmt.Fprintln(stderr, "Error: --path is required")
		cmd.Usage()
		return 2
	}

	req, err := http.NewRequest(http.MethodGet, *server+*path, nil)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	// Identity only, so the body hash matches the identity leaf.
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "Fetch failed: status %d\n", resp.StatusCode)
		return 1
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading body: %v\n", err)
		return 1
	}

	encoded := resp.Header.Get("X-Veriserve-Witness")
	if encoded == "" {
		fmt.Fprintln(stderr, "Server sent no witness header")
		return 1
	}
	witness, err := certification.DecodeWitness(encoded)
	if err != nil {
		fmt.Fprintf(stderr, "Error decoding witness: %v\n", err)
		return 1
	}

	rootResp, err := http.Get(*server + "/v1/root")
	if err != nil {
		fmt.Fprintf(stderr, "Error fetching root: %v\n", err)
		return 1
	}
	defer rootResp.Body.Close()
	var root struct {
		Root string `json:"root"`
	}
	if err := json.NewDecoder(rootResp.Body).Decode(&root); err != nil {
		fmt.Fprintf(stderr, "Error decoding root: %v\n", err)
		return 1
	}
	rootBytes, err := hex.DecodeString(root.Root)
	if err != nil || len(rootBytes) != sha256.Size {
		fmt.Fprintln(stderr, "Server sent a malformed root")
		return 1
	}
	var expected certification.Hash
	copy(expected[:], rootBytes)

	if !certification.Verify(witness, expected) {
		fmt.Fprintln(stderr, "FAIL: witness does not chain to the root")
		return 1
	}

	sum := sha256.Sum256(body)
	fmt.Fprintf(stdout, "OK %s\n", *path)
	fmt.Fprintf(stdout, "  encoding:  %s\n", witness.Encoding)
	fmt.Fprintf(stdout, "  body hash: %s\n", hex.EncodeToString(sum[:]))
	fmt.Fprintf(stdout, "  root:      %s\n", root.Root)
	return 0
}

// uploadClient drives init/chunk/commit against the server API.
type uploadClient struct {
	server string
	token  string
	http   *http.Client
}

func (c *uploadClient) upload(key storage.InitAssetKey, content []byte, headers []storage.HeaderField, chunkSize int) (*storage.AssetNoContent, error) {
	var initResp struct {
		BatchID uint64 `json:"batch_id"`
	}
	if err := c.post("/v1/upload/init", key, &initResp); err != nil {
		return nil, fmt.Errorf("init upload: %w", err)
	}

	var chunkIDs []uint64
	for off := 0; off < len(content) || off == 0; off += chunkSize {
		end := min(off+chunkSize, len(content))
		req := map[string]any{
			"batch_id": initResp.BatchID,
			"content":  content[off:end],
		}
		var chunkResp struct {
			ChunkID uint64 `json:"chunk_id"`
		}
		if err := c.post("/v1/upload/chunk", req, &chunkResp); err != nil {
			return nil, fmt.Errorf("upload chunk: %w", err)
		}
		chunkIDs = append(chunkIDs, chunkResp.ChunkID)
		if len(content) == 0 {
			break
		}
	}

	commit := storage.CommitBatch{
		BatchID:  initResp.BatchID,
		Headers:  headers,
		ChunkIDs: chunkIDs,
	}
	var asset storage.AssetNoContent
	if err := c.post("/v1/upload/commit", commit, &asset); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &asset, nil
}

func (c *uploadClient) post(path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.server+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var problem struct {
			Detail string `json:"detail"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &problem) == nil && problem.Detail != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, problem.Detail)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// parseHeaders parses "Name: value; Name2: value2" into header fields.
func parseHeaders(s string) ([]storage.HeaderField, error) {
	if s == "" {
		return nil, nil
	}
	var out []storage.HeaderField
	for _, part := range strings.Split(s, ";") {
		name, value, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header %q, want 'Name: value'", strings.TrimSpace(part))
		}
		out = append(out, storage.HeaderField{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	return out, nil
}
