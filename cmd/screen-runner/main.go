// Command screen-runner runs Appium screen scenarios against mobile apps.
package main

import "github.com/devicelab-dev/screen-runner/pkg/cli"

func main() {
	cli.Execute()
}
