package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"

	units "github.com/docker/go-units"
	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/relstore/pkg/hashspec"
	"github.com/oneconcern/relstore/pkg/web"
	"github.com/spf13/cobra"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var uploadFlags struct {
	user     string
	index    string
	project  string
	version  string
	hashSpec string
}

var getFlags struct {
	output string
}

var uploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Upload a release file to a primary",
	Long: `Upload a release file to the index of a user on a primary node.

The hash spec of the file is computed locally unless given with --hash-spec,
and verified by the server.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		res, err := upload(cmd.Context(), http.DefaultClient, config.Server, args[0])
		if err != nil {
			wrapFatalln("upload failed", err)
			return
		}
		infoLogger.Printf("uploaded %s (%s) at serial %d", res.Relpath, res.HashSpec, res.Serial)
	},
}

var getCmd = &cobra.Command{
	Use:   "get RELPATH",
	Short: "Retrieve a release file",
	Long: `Retrieve a release file by its path relative to the server root and print its headers.

Use --output to save the content to a file.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		headers, size, err := get(cmd.Context(), http.DefaultClient, config.Server, args[0], getFlags.output)
		if err != nil {
			wrapFatalln("get failed", err)
			return
		}
		printHeaders(headers)
		infoLogger.Printf("size: %s", units.HumanSize(float64(size)))
	},
}

type uploadResult struct {
	Relpath  string `json:"relpath"`
	HashSpec string `json:"hash_spec"`
	Serial   int64  `json:"serial"`
}

func upload(ctx context.Context, client *http.Client, server, file string) (*uploadResult, error) {
	if uploadFlags.user == "" || uploadFlags.index == "" {
		return nil, fmt.Errorf("--user and --index are required")
	}
	content, err := ioutil.ReadFile(file)
	if err != nil {
		return nil, err
	}
	spec := uploadFlags.hashSpec
	if spec == "" {
		spec = hashspec.Default(content)
	}

	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return nil, err
	}
	u.Path = path.Join(u.Path, uploadFlags.user, uploadFlags.index, "+upload", filepath.Base(file))
	q := u.Query()
	if uploadFlags.project != "" {
		q.Set("project", uploadFlags.project)
	}
	if uploadFlags.version != "" {
		q.Set("version", uploadFlags.version)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	req.Header.Set(web.HashSpecHeader, spec)

	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%s: %s", res.Status, strings.TrimSpace(string(body)))
	}

	var result uploadResult
	if err = json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func get(ctx context.Context, client *http.Client, server, relpath, output string) (http.Header, int64, error) {
	method := http.MethodHead
	if output != "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(server, "/")+"/"+strings.TrimLeft(relpath, "/"), nil)
	if err != nil {
		return nil, 0, err
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := ioutil.ReadAll(res.Body)
		return nil, 0, fmt.Errorf("%s: %s", res.Status, strings.TrimSpace(string(body)))
	}
	if output == "" {
		return res.Header, res.ContentLength, nil
	}

	content, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, 0, err
	}
	if err = ioutil.WriteFile(output, content, 0600); err != nil {
		return nil, 0, err
	}
	return res.Header, int64(len(content)), nil
}

func printHeaders(headers http.Header) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		infoLogger.Printf("%s: %s", color.HiBlackString(k), strings.Join(headers[k], ", "))
	}
}

func init() {
	rootCmd.PersistentFlags().String(flagServer, "http://localhost:3141", "URL of the server, for client commands")
	mustBind(rootCmd.PersistentFlags().Lookup(flagServer))

	uploadCmd.Flags().StringVar(&uploadFlags.user, "user", "", "user owning the index")
	uploadCmd.Flags().StringVar(&uploadFlags.index, "index", "", "index to upload to")
	uploadCmd.Flags().StringVar(&uploadFlags.project, "project", "", "project the file belongs to")
	uploadCmd.Flags().StringVar(&uploadFlags.version, "version", "", "version of the project")
	uploadCmd.Flags().StringVar(&uploadFlags.hashSpec, "hash-spec", "", "expected hash spec, e.g. sha256=<hex digest>")
	getCmd.Flags().StringVarP(&getFlags.output, "output", "o", "", "file to write the content to")

	rootCmd.AddCommand(uploadCmd, getCmd)
}
