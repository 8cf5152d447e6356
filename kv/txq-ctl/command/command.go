package command

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
)

const apiPrefix = "/api/v1"

var dialClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		DisableKeepAlives: true,
	},
}

// InitCommand returns the root command with every sub command attached.
func InitCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "txq-ctl",
		Short:         "txqueue admin client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("url", "u", "http://127.0.0.1:20170", "address of the txqueue admin api")
	rootCmd.AddCommand(
		NewStateCommand(),
		NewInvalidateCommand(),
		NewPruneCommand(),
		NewStatusCommand(),
	)
	return rootCmd
}

// ExecuteCommandC runs root with args and returns its output.
func ExecuteCommandC(root *cobra.Command, args ...string) (c *cobra.Command, output []byte, err error) {
	buf := new(bytes.Buffer)
	root.SetOutput(buf)
	root.SetArgs(args)

	c, err = root.ExecuteC()
	return c, buf.Bytes(), err
}

func getAddress(cmd *cobra.Command) string {
	addr, err := cmd.Flags().GetString("url")
	if err != nil || addr == "" {
		addr = "http://127.0.0.1:20170"
	}
	if !strings.HasPrefix(addr, "http") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/")
}

func doRequest(cmd *cobra.Command, method, path string) ([]byte, error) {
	req, err := http.NewRequest(method, getAddress(cmd)+apiPrefix+path, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	resp, err := dialClient.Do(req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if resp.StatusCode != http.StatusOK {
		var msg string
		if json.Unmarshal(body, &msg) != nil {
			msg = strings.TrimSpace(string(body))
		}
		return nil, errors.Errorf("[%d] %s", resp.StatusCode, msg)
	}
	return body, nil
}

// printResponse pretty prints the JSON body of a request.
func printResponse(cmd *cobra.Command, method, path string) error {
	body, err := doRequest(cmd, method, path)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		out.Reset()
		out.Write(body)
	}
	cmd.Println(strings.TrimSpace(out.String()))
	return nil
}
