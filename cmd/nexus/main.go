// Command nexus is the autonomous software-construction system's CLI
// entrypoint: it wires config, the LLMClient backend, and every
// collaborator package into a running Coordinator.
package main

func main() {
	Execute()
}
