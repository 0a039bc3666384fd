package main

import (
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"
)

func newClient() *resty.Client {
	return resty.New().SetBaseURL(apiFlag)
}

func checkStatus(resp *resty.Response) error {
	if resp.IsError() {
		return fmt.Errorf("http %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// printJSON re-indents the raw response body for the terminal.
func printJSON(raw []byte) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Println(string(raw))
		return
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(string(pretty))
}
