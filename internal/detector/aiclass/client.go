package aiclass

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
)

// Completer sends one prompt to a language model and returns its text answer.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// AzOpenAIClient is a Completer backed by an Azure OpenAI chat deployment.
type AzOpenAIClient struct {
	client       *azopenai.Client
	deploymentID string
	maxTokens    int32
}

// NewAzOpenAIClient creates a client for one deployment using key authentication.
func NewAzOpenAIClient(endpoint, apiKey, deploymentID string) (*AzOpenAIClient, error) {
	if endpoint == "" || apiKey == "" || deploymentID == "" {
		return nil, errors.New("azure openai endpoint, key and deployment are all required")
	}
	keyCredential := azcore.NewKeyCredential(apiKey)
	client, err := azopenai.NewClientWithKeyCredential(endpoint, keyCredential, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating Azure OpenAI client: %w", err)
	}
	return &AzOpenAIClient{client: client, deploymentID: deploymentID, maxTokens: 300}, nil
}

// Complete sends the prompt as a single user message.
func (c *AzOpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.GetChatCompletions(
		ctx,
		azopenai.ChatCompletionsOptions{
			DeploymentName: to.Ptr(c.deploymentID),
			MaxTokens:      to.Ptr(c.maxTokens),
			Temperature:    to.Ptr[float32](0),
			Messages: []azopenai.ChatRequestMessageClassification{
				&azopenai.ChatRequestUserMessage{
					Content: azopenai.NewChatRequestUserMessageContent(prompt),
				},
			},
		},
		nil,
	)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) > 0 && resp.Choices[0].Message != nil && resp.Choices[0].Message.Content != nil {
		return *resp.Choices[0].Message.Content, nil
	}
	return "", errors.New("no completion received from model")
}
