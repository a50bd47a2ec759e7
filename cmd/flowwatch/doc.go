// Command flowwatch runs the workflow snapshot monitor and inspects
// snapshots from the command line.
//
//	flowwatch serve --config config.yaml
//	flowwatch snapshot --user u1 --demo
//	flowwatch version
package main
