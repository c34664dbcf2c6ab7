// Command egoviz converts egosuite log containers into their
// visualization form.
package main

import "os"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
