// Package config provides configuration loading for assetsync.
//
// Values come from, in increasing precedence: built-in defaults, the
// assetsync.json file in the project directory, ASSETSYNC_ environment
// variables (ASSETSYNC_PORT, ASSETSYNC_JS_BASEURI) and command-line flags.
//
// # Configuration File Structure
//
//	{
//	  "base": ".",
//	  "host": "localhost",
//	  "port": 8000,
//	  "sync": true,
//	  "index": "index.html",
//	  "ignore": [".svn", ".git", "node_modules/**"],
//	  "js": {
//	    "namespaces": { "basis": "lib/basis" },
//	    "baseURI": "src"
//	  },
//	  "build": { "command": ["assetsync", "build"] },
//	  "editor": "code --goto",
//	  "publish": { "bucket": "assets", "prefix": "bundles/", "region": "eu-west-1" },
//	  "log": { "level": "info", "format": "text" }
//	}
//
// # Usage
//
//	cfg, err := config.Load(config.LoadOptions{Dir: "."})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Listening on", cfg.Address())
package config
