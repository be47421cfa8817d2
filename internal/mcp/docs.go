package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverInstructions = `shopbrain is a store assistant for product price and stock edits.

Golden rule: the brain never writes to the store from chat. A change only runs
through brain_confirm, and brain_confirm requires human approval on the host
side: show the pending action to the user and call it only after they approve
it through a confirm control or approval prompt.

Workflow:
1) Send each user message with brain_chat. Pass the last turns in history.
2) Read store_state in the result:
   - pending_question: the brain is waiting for missing data (product or price).
   - pending_target_selection: show a selector. For products use product_search;
     for variations answer with brain_apply_variations.
   - pending_action: show its summary and a confirm/cancel choice.
   - meta.pending_choice: the user typed a new action while one was pending.
     Ask whether to keep the current one or replace it with deferred_message.
3) Only call brain_confirm with the pending_action_id the user saw.
4) brain_cancel discards everything that is pending.

Scope: every call is bound to a tab. tab_id defaults to the MCP session id.

Docs:
- shopbrain://docs/index
- shopbrain://docs/confirmation
- shopbrain://docs/variations
`

type docResource struct {
	URI         string
	Name        string
	Title       string
	Description string
	Content     string
}

var docResources = []docResource{
	{
		URI:         "shopbrain://docs/index",
		Name:        "docs_index",
		Title:       "shopbrain docs index",
		Description: "Entry point: tools, phases and what to read next.",
		Content: `# shopbrain docs

## Tools

- ` + "`brain_chat`" + `: one conversational turn.
- ` + "`brain_confirm`" + `: execute the pending action, after human approval.
- ` + "`brain_cancel`" + `: discard pending items.
- ` + "`brain_apply_variations`" + `: answer a variation selector.
- ` + "`brain_state`" + `: read the state and its phase.
- ` + "`product_search`" + `: search products for a selector.

## Phases

| phase | meaning |
|---|---|
| idle | nothing pending |
| awaiting_slots | a question is open (missing product or price) |
| awaiting_target_selection | a selector is open |
| awaiting_confirmation | an action waits for confirm or cancel |

## Read next

- ` + "`shopbrain://docs/confirmation`" + `
- ` + "`shopbrain://docs/variations`" + `
`,
	},
	{
		URI:         "shopbrain://docs/confirmation",
		Name:        "docs_confirmation",
		Title:       "Confirming actions",
		Description: "How pending actions are confirmed, cancelled or replaced.",
		Content: `# Confirming actions

- brain_confirm requires human approval on the host side. Show the pending
  action summary and call it only after the user approves it through a
  confirm control or an approval prompt. An agent must never confirm on its
  own.
- Typing "si", "dale" or "ok" in chat never executes anything. The brain
  answers with a hint to use the confirm button.
- Pass the ` + "`pending_action_id`" + ` you showed the user. If the state
  moved on, confirm fails with ` + "`pending_mismatch`" + ` and the current
  store_state; show it and ask again.
- A successful confirm clears the pending action. Errors keep it so the user
  can retry.
- ` + "`postcheck_mismatch`" + ` in ` + "`warning`" + ` means the store accepted
  the call but the visible price did not change.
- When meta.pending_choice is set, ask the user to keep the current action or
  replace it. To replace, call brain_cancel and then brain_chat with the
  deferred message.
`,
	},
	{
		URI:         "shopbrain://docs/variations",
		Name:        "docs_variations",
		Title:       "Variable products",
		Description: "Selecting variations of a variable product.",
		Content: `# Variable products

Prices of a variable product live in its variations. When a price edit
targets one, the brain opens a variation selector listing the variations.

- Call ` + "`brain_apply_variations`" + ` with ` + "`selected_ids`" + ` or
  ` + "`apply_all`" + `. Ids that are not variations of the product are ignored.
- The result holds a pending action in mode ` + "`update_variations`" + `.
  Confirm it with brain_confirm.
- A partial failure still reports how many variations were updated.
`,
	},
}

func registerDocResources(server *sdkmcp.Server) {
	for _, doc := range docResources {
		doc := doc

		server.AddResource(&sdkmcp.Resource{
			URI:         doc.URI,
			Name:        doc.Name,
			Title:       doc.Title,
			Description: doc.Description,
			MIMEType:    "text/markdown",
			Size:        int64(len(doc.Content)),
		}, func(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
			uri := doc.URI
			if req != nil && req.Params != nil && req.Params.URI != "" {
				uri = req.Params.URI
			}
			return &sdkmcp.ReadResourceResult{
				Contents: []*sdkmcp.ResourceContents{{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     doc.Content,
				}},
			}, nil
		})
	}
}
