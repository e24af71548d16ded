package main

import (
	"payticket-backend/cmd/ticketq/commands"
	"payticket-backend/pkg/serviceutil"
)

func main() {
	ctx, cancel := serviceutil.SignalContext()
	defer cancel()
	commands.ExecuteContext(ctx)
}
