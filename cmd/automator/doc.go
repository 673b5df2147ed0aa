// Command automator starts and stops commensal recordings on a DAQ cluster
// as the telescope moves on and off source.
//
// Usage:
//
//	automator run                 # run until SIGINT/SIGTERM
//	automator check-config        # print the resolved configuration
//	automator channels            # list the channels the daemon subscribes to
//	automator history --limit 20  # tabulate recent observing sessions
//	automator init-config         # write a sample configuration file
package main
