// Package config loads load test settings from YAML, JSON or Java-style
// .properties files.
//
// YAML and JSON files nest their settings under a load_test key:
//
//	load_test:
//	  data_file: stress.csv
//	  num_of_threads: 64
//	  max_attempts_on_throttle: 9
//	  backend: sim
//
// A .properties file uses the same keys at the top level, with dotted keys for
// the backend sections (cassandra.hosts, redis.addr). stress_data_file is
// accepted as an alias of data_file.
//
// ToLoadTestConfig overlays the file onto loadtest defaults, or onto a named
// preset when one is given.
package config
