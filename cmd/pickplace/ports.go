package main

import (
	"fmt"

	"github.com/mastercactapus/pickplace/machine/grbl"
)

type PortsCommand struct{}

func (c *PortsCommand) Execute(args []string) error {
	ports, err := grbl.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
		return nil
	}
	detected, _ := grbl.DetectPort(ports)
	for _, p := range ports {
		mark := " "
		if p == detected {
			mark = "*"
		}
		fmt.Println(mark, p)
	}
	return nil
}
